package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modnet/internal/app"
	"modnet/internal/client"
	"modnet/internal/common/logging"
	"modnet/internal/config"
	"modnet/internal/dispatch"
	"modnet/internal/metrics"
	"modnet/internal/modules/chat"
	"modnet/internal/modules/login"
	"modnet/internal/payload"
)

var (
	serverAddr   string
	account      string
	pingInterval time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect, log in and chat from stdin",
	Long: `Lines read from stdin are said to everyone. "/w <session> <text>"
whispers to one session. The server address may be host:port for TCP or a
ws:// URL.`,
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVarP(&serverAddr, "addr", "a", "", "server address, overrides the config")
	connectCmd.Flags().StringVarP(&account, "account", "u", "", "account to log in as")
	connectCmd.Flags().DurationVar(&pingInterval, "ping", 15*time.Second, "keepalive interval, 0 disables")
}

func runConnect(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	if serverAddr != "" {
		cfg.ServerAddr = serverAddr
	}
	logger, err := logging.New("client", cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	reg, mods, err := app.NewRegistry(logger, m, cfg.Performance, cfg.HomeModule, login.Options{})
	if err != nil {
		return err
	}
	if err := reg.Initialize(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	mods.Chat.OnSaid = func(s *chat.Said) {
		if s.Private {
			fmt.Fprintf(out, "[%s whispers] %s\n", s.From, s.Text)
			return
		}
		fmt.Fprintf(out, "<%s> %s\n", s.From, s.Text)
	}
	mods.Login.OnResult = func(uid int64) {
		if uid == 0 {
			fmt.Fprintln(out, "login refused")
			return
		}
		fmt.Fprintf(out, "logged in as %s (uid %d)\n", account, uid)
	}
	mods.Core.OnPong = func(seq uint32, rtt time.Duration) {
		logger.Debug("rtt", zap.Uint32("seq", seq), zap.Duration("rtt", rtt))
	}

	var c *client.Client
	c = client.New(reg, logger, m, client.Options{
		Addr:              cfg.ServerAddr,
		Layout:            app.Layout(cfg.Performance),
		ReconnectDelay:    time.Duration(cfg.ReconnectDelayMs) * time.Millisecond,
		MaxReconnectDelay: time.Duration(cfg.MaxReconnectDelay) * time.Millisecond,
		Validate:          cfg.Performance.TagBits >= 2,
		OnConnect: func() {
			if account == "" {
				return
			}
			if err := c.Send(login.NewRequest(account)); err != nil {
				logger.Warn("login send failed", zap.Error(err))
			}
		},
		OnValidated: func(r dispatch.ValidationResult) {
			if !r.OK() {
				fmt.Fprintf(out, "manifest mismatch: local %x, server %x\n", r.Local, r.Remote)
			}
		},
	})

	if pingInterval > 0 {
		go keepalive(ctx, c, mods, pingInterval)
	}
	go readInput(ctx, cmd.InOrStdin(), c, logger, stop)

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func keepalive(ctx context.Context, c *client.Client, mods *app.Modules, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.Connected() {
				_ = c.Send(mods.Core.NextPing())
			}
		}
	}
}

func readInput(ctx context.Context, in io.Reader, c *client.Client, logger *zap.Logger, done func()) {
	defer done()
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := c.Send(parseLine(line)); err != nil {
			logger.Warn("send failed", zap.Error(err))
		}
	}
}

func parseLine(line string) payload.Payload {
	if rest, ok := strings.CutPrefix(line, "/w "); ok {
		to, text, _ := strings.Cut(rest, " ")
		return &chat.Whisper{To: to, Text: text}
	}
	return &chat.Say{Text: line}
}
