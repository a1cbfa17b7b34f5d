package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/component"
	"github.com/c360studio/aibenefits/config"
	"github.com/c360studio/aibenefits/metrics"
	"github.com/c360studio/aibenefits/notify"
	"github.com/c360studio/aibenefits/processor/dashboard"
	roadmapsync "github.com/c360studio/aibenefits/processor/roadmap-sync"
	trackerapi "github.com/c360studio/aibenefits/processor/tracker-api"
	"github.com/c360studio/aibenefits/server"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/uploads"
)

const shutdownTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, flags *globalFlags) error {
	cfg, loader, logger, err := flags.setup(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	files, err := uploads.NewStore(cfg.Uploads.Dir, cfg.Uploads.MaxBytes, cfg.Uploads.Allowed, logger)
	if err != nil {
		return fmt.Errorf("open upload store: %w", err)
	}

	notifier, mailer, conn, err := buildNotifier(cfg, store, logger)
	if err != nil {
		return err
	}
	if conn != nil {
		defer func() { _ = conn.Drain() }()
	}

	m := metrics.New()
	registry := component.NewRegistry()
	deps := component.Dependencies{
		Config:         cfg,
		Store:          store,
		Auth:           auth.NewService(store, cfg.Server.SessionTTL, logger),
		Notifier:       notifier,
		Mailer:         mailer,
		Uploads:        files,
		Metrics:        m,
		Logger:         logger,
		HealthReporter: registry.Health,
	}

	mux := http.NewServeMux()
	syncer, err := buildComponents(registry, &deps, mux)
	if err != nil {
		return err
	}
	mux.Handle("GET /metrics", m.Handler())

	srv, err := server.New(server.Config{
		Address: cfg.Server.ListenAddr,
		Handler: deps.Auth.Middleware(cfg.Server.SessionCookie)(m.Middleware(mux)),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if err := registry.StartAll(ctx, shutdownTimeout); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	logger.Info("AI benefits tracker ready",
		"version", Version,
		"listen_addr", cfg.Server.ListenAddr,
		"database", cfg.Database.Path)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if path := loader.File(); path != "" {
		watcher := config.NewWatcher(path, func() (*config.Config, error) {
			return config.NewLoader(logger).Load(flags.configPath)
		}, func(next *config.Config) {
			if err := syncer.SetThresholds(next.Sync.Thresholds); err != nil {
				logger.Warn("Ignoring reloaded thresholds", "error", err)
			}
		}, logger)
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	err = g.Wait()
	if stopErr := registry.StopAll(shutdownTimeout); stopErr != nil {
		logger.Error("Error stopping components", "error", stopErr)
	}
	logger.Info("AI benefits tracker shutdown complete")
	return err
}

// buildNotifier assembles the alert fan-out from the enabled channels.
// The NATS connection, when opened, is returned for draining on exit.
func buildNotifier(cfg *config.Config, store *storage.Store, logger *slog.Logger) (notify.Notifier, *notify.Mailer, *nats.Conn, error) {
	var (
		fanout notify.Multi
		mailer *notify.Mailer
		conn   *nats.Conn
	)
	if cfg.Mail.Enabled {
		mailer = notify.NewMailer(cfg.Mail, cfg.Server.BaseURL, store, logger)
		fanout = append(fanout, mailer)
	}
	if cfg.NATS.URL != "" {
		var err error
		conn, err = notify.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		fanout = append(fanout, notify.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix, logger))
	}
	if len(fanout) == 0 {
		return notify.Nop{}, nil, nil, nil
	}
	return fanout, mailer, conn, nil
}

// buildComponents registers and creates every component and mounts their
// routes. The roadmap sync is created first so the API can trigger it.
func buildComponents(registry *component.Registry, deps *component.Dependencies, mux *http.ServeMux) (*roadmapsync.Component, error) {
	if err := roadmapsync.Register(registry); err != nil {
		return nil, fmt.Errorf("register roadmap-sync: %w", err)
	}
	if err := trackerapi.Register(registry); err != nil {
		return nil, fmt.Errorf("register tracker-api: %w", err)
	}
	if err := dashboard.Register(registry); err != nil {
		return nil, fmt.Errorf("register dashboard: %w", err)
	}

	created, err := registry.Create("roadmap-sync", *deps)
	if err != nil {
		return nil, err
	}
	syncer, ok := created.(*roadmapsync.Component)
	if !ok {
		return nil, fmt.Errorf("roadmap-sync has unexpected type %T", created)
	}
	deps.Syncer = syncer

	mounts := []struct{ name, prefix string }{
		{"tracker-api", "api"},
		{"dashboard", "/"},
	}
	for _, mount := range mounts {
		c, err := registry.Create(mount.name, *deps)
		if err != nil {
			return nil, err
		}
		if h, ok := c.(component.HTTPHandler); ok {
			h.RegisterHTTPHandlers(mount.prefix, mux)
		}
	}
	return syncer, nil
}
