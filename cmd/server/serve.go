package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/api"
	"github.com/notifyhub/activity-relay/internal/config"
	"github.com/notifyhub/activity-relay/internal/db"
	"github.com/notifyhub/activity-relay/internal/dedup"
	"github.com/notifyhub/activity-relay/internal/eligibility"
	"github.com/notifyhub/activity-relay/internal/metrics"
	"github.com/notifyhub/activity-relay/internal/provider"
	"github.com/notifyhub/activity-relay/internal/queue"
	"github.com/notifyhub/activity-relay/internal/ratelimiter"
	"github.com/notifyhub/activity-relay/internal/repository"
	"github.com/notifyhub/activity-relay/internal/service"
	"github.com/notifyhub/activity-relay/internal/worker"
)

func serveCmd() *cobra.Command {
	var (
		migrations string
		noMigrate  bool
	)
	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and dispatch pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if !noMigrate {
				if _, err := db.Migrate(cfg.DatabaseURL, migrations, 0); err != nil {
					logger.Error("failed to run migrations", zap.Error(err))
					return err
				}
				logger.Info("database migrations applied")
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}

	command.Flags().StringVar(&migrations, "migrations", "migrations", "Directory holding the migration files")
	command.Flags().BoolVar(&noMigrate, "no-migrate", false, "Skip applying migrations on start-up")
	return command
}

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- database ----
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return err
	}
	defer pool.Close()

	// ---- metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- collaborators ----
	members := service.NewMemberService(repository.NewPgMemberRepository(pool), nil, cfg.TokenExpiryMargin, logger)
	logger.Warn("no token refresher configured: expired member credentials are discarded until the member re-registers",
		zap.Duration("token_expiry_margin", cfg.TokenExpiryMargin))
	fetcher := provider.NewActivityClient(cfg.ActivityAPIBaseURL, cfg.ActivityAPITimeout)
	relay := provider.NewChatWebhook(cfg.RelayWebhookURL, cfg.RelayUsername, cfg.RelayTimeout)
	checker := eligibility.New(eligibility.Options{
		AllowPrivate:      cfg.EligibilityAllowPrivate,
		MinDistanceMeters: cfg.EligibilityMinDistance,
		MinMovingTime:     cfg.EligibilityMinMoving,
		MaxAge:            cfg.EligibilityMaxAge,
	})

	// ---- pipeline ----
	limiter, err := ratelimiter.New(ratelimiter.Config{
		Windows: []ratelimiter.WindowConfig{
			{Label: "short", Limit: cfg.RateShortLimit, Window: cfg.RateShortWindow},
			{Label: "daily", Limit: cfg.RateDailyLimit, Window: cfg.RateDailyWindow},
		},
		Spacing: cfg.RateCallSpacing,
	}, logger.Named("ratelimiter"))
	if err != nil {
		return err
	}
	ledger := dedup.NewLedger(dedup.LedgerConfig{MaxEntries: cfg.DedupMaxEntries, MaxAge: cfg.DedupMaxAge})

	dispatcher := worker.NewDispatcher(members, limiter, fetcher, checker, relay, ledger,
		logger.Named("dispatcher"), m.DispatchHook())
	q := queue.New(queue.Config{Delay: cfg.PostDelay()}, dispatcher.Dispatch, logger.Named("queue"))

	activities := service.NewActivityService(q, limiter, ledger, members, logger, m.EventHook())

	// ---- background maintenance ----
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	maint := worker.NewMaintenanceWorker(activities, cfg.MaintenanceInterval, logger, m.SnapshotHook())
	maintDone := make(chan struct{})
	go func() {
		defer close(maintDone)
		maint.Run(workerCtx)
	}()

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(activities, members, cfg.WebhookVerifyToken, reg, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Duration("post_delay", cfg.PostDelay()),
			zap.Int("rate_short_limit", cfg.RateShortLimit),
			zap.Int("rate_daily_limit", cfg.RateDailyLimit))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	// 1. Stop accepting webhooks.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Drop pending timers and abandon the limiter drain; nothing is flushed.
	st := activities.QueueStats()
	activities.Shutdown()

	// 3. Stop maintenance.
	cancelWorkers()
	<-maintDone

	logger.Info("server stopped cleanly", zap.Int("dropped_items", st.Queued))
	return nil
}
