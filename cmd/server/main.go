package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "modnet-server",
	Short: "Modular message server",
	Long: `modnet-server accepts TCP and WebSocket clients and dispatches their
messages to the handlers registered by its modules.

Use "modnet-server [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "server config file (.toml or .json)")
	rootCmd.AddCommand(serveCmd, manifestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
