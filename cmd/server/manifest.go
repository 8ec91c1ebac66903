package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modnet/internal/app"
	"modnet/internal/config"
	"modnet/internal/db"
	"modnet/internal/identity"
	"modnet/internal/modules/login"
	"modnet/internal/registry"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect the identity manifest",
	Long: `Every message type gets its identity at declaration. Peers agree on the
wire only when they built the same manifest.

Examples:
  modnet-server manifest print
  modnet-server manifest publish -c server.toml
  modnet-server manifest compare -c server.toml`,
}

var manifestPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the local manifest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, reg, err := localRegistry()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tMODULE\tGROUP\tMESSAGE\tDIRECTION")
		for _, e := range reg.Manifest() {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", e.Name, e.Identity.Module, e.Identity.Group, e.Identity.Message, e.Direction)
		}
		fmt.Fprintf(w, "\nhash\t%s\n", hashString(reg.ManifestHash()))
		return w.Flush()
	},
}

var manifestPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the local manifest to redis",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, reg, err := localRegistry()
		if err != nil {
			return err
		}
		store, closeFn, err := manifestStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		hash, err := store.Publish(cmd.Context(), cfg.HomeModule, reg.Manifest())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s for %s\n", hashString(hash), cfg.HomeModule)
		return nil
	},
}

var errManifestMismatch = errors.New("manifest mismatch")

var manifestCompareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare the local manifest with the one published in redis",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, reg, err := localRegistry()
		if err != nil {
			return err
		}
		store, closeFn, err := manifestStore(cmd, cfg)
		if err != nil {
			return err
		}
		defer closeFn()

		ctx := cmd.Context()
		hash, err := store.Current(ctx, cfg.HomeModule)
		if err != nil {
			return err
		}
		if hash == reg.ManifestHash() {
			fmt.Fprintf(cmd.OutOrStdout(), "match %s\n", hashString(hash))
			return nil
		}
		remote, err := store.Load(ctx, hash)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, d := range identity.Diff(reg.Manifest(), remote) {
			fmt.Fprintf(out, "%s\tlocal=%s\tremote=%s\n", d.Name, describe(d.Local), describe(d.Remote))
		}
		return fmt.Errorf("%w: local %s, published %s", errManifestMismatch, hashString(reg.ManifestHash()), hashString(hash))
	},
}

func init() {
	manifestCmd.AddCommand(manifestPrintCmd, manifestPublishCmd, manifestCompareCmd)
}

func localRegistry() (config.ServerConfig, *registry.Registry, error) {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return cfg, nil, err
	}
	reg, _, err := app.NewRegistry(nil, nil, cfg.Performance, cfg.HomeModule, login.Options{})
	return cfg, reg, err
}

func manifestStore(cmd *cobra.Command, cfg config.ServerConfig) (*db.ManifestStore, func(), error) {
	rdb, err := db.NewRedis(cmd.Context(), cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return db.NewManifestStore(rdb, cfg.Redis.ManifestKey), func() { _ = rdb.Close() }, nil
}

func describe(e identity.Entry) string {
	if e.Name == "" {
		return "-"
	}
	return fmt.Sprintf("%d:%d:%d/%s", e.Identity.Module, e.Identity.Group, e.Identity.Message, e.Direction)
}

func hashString(h uint64) string { return strconv.FormatUint(h, 16) }
