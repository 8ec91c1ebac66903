package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modnet/internal/app"
	"modnet/internal/common/logging"
	"modnet/internal/config"
	"modnet/internal/db"
	"modnet/internal/metrics"
	"modnet/internal/modules/login"
	"modnet/internal/service"
	"modnet/internal/transport"
)

var noRedis bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server until interrupted",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noRedis, "no-redis", false, "skip redis; accounts stay in memory and the manifest is not published")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New("server", cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if !noRedis && cfg.Redis.Addr != "" {
		rdb, err = db.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, continuing without it", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
			db.WatchHealth(ctx, rdb, logger, 30*time.Second)
		}
	}

	loginOpts := login.Options{RateLimit: 5, RateWindow: time.Minute}
	if rdb != nil {
		loginOpts.UIDs = db.NewAccountStore(rdb, "")
	}

	m := metrics.New()
	reg, mods, err := app.NewRegistry(logger, m, cfg.Performance, cfg.HomeModule, loginOpts)
	if err != nil {
		return err
	}
	if err := reg.Initialize(); err != nil {
		return err
	}

	srv := service.NewServer(reg, logger, m, service.Options{
		Layout:        app.Layout(cfg.Performance),
		IdleTimeout:   cfg.IdleTimeout(),
		SweepInterval: cfg.SweepInterval(),
		OnClose:       func(s *service.Session) { mods.Login.Forget(s.ID) },
	})
	mods.Core.Bind(srv)
	mods.Login.Bind(srv)
	mods.Chat.Bind(srv)
	mods.Chat.DisplayName = func(id transport.SenderID) string {
		if s := srv.Sessions().Get(id); s != nil {
			name, _ := s.Get(login.AttrAccount)
			return name
		}
		return ""
	}

	if rdb != nil {
		store := db.NewManifestStore(rdb, cfg.Redis.ManifestKey)
		hash, err := store.Publish(ctx, cfg.HomeModule, reg.Manifest())
		if err != nil {
			logger.Warn("manifest publish failed", zap.Error(err))
		} else {
			logger.Info("manifest published", zap.String("hash", hashString(hash)))
		}
	}

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 3)
	)
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errs <- err
				stop()
			}
		}()
	}

	if cfg.ListenAddr != "" {
		run(func() error { return srv.ListenAndServe(ctx, cfg.ListenAddr) })
	}
	if cfg.WebSocketAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.WebSocketPath, srv.WebSocketHandler(ctx))
		run(func() error { return serveHTTP(ctx, logger, cfg.WebSocketAddr, mux) })
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		run(func() error { return serveHTTP(ctx, logger, cfg.MetricsAddr, mux) })
	}

	logger.Info("server started",
		zap.String("tcp", cfg.ListenAddr),
		zap.String("ws", cfg.WebSocketAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("manifest", hashString(reg.ManifestHash())),
	)
	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()

	close(errs)
	return errors.Join(collect(errs)...)
}

func serveHTTP(ctx context.Context, logger *zap.Logger, addr string, h http.Handler) error {
	hs := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()
	logger.Info("http listening", zap.String("addr", addr))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func collect(ch <-chan error) []error {
	var out []error
	for err := range ch {
		out = append(out, err)
	}
	return out
}
