package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stationbook/internal/api"
	"stationbook/internal/config"
	"stationbook/internal/database"
	"stationbook/internal/metrics"
	"stationbook/internal/reconcile"
	"stationbook/shared/audit"
	"stationbook/shared/reminders"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(flags)
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("set auth.jwt_secret in config")
			}

			a, err := newApp(cfg, &logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = config.WatchVenues(ctx, cfg.Inventory.Path, cfg.InventoryWatchInterval(),
				func(vc *config.VenuesConfig) {
					syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
					defer cancel()
					if err := a.db.SyncVenues(syncCtx, vc.ToModels()); err != nil {
						logger.Error().Err(err).Msg("Failed to sync venues")
						return
					}
					logger.Info().Str("inventory", vc.String()).Msg("Venues synced")
				},
				func(err error) {
					logger.Error().Err(err).Msg("Failed to reload venues, keeping previous inventory")
				})
			if err != nil {
				return fmt.Errorf("load venues: %w", err)
			}

			var wg sync.WaitGroup
			run := func(fn func()) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					fn()
				}()
			}

			if cfg.Monitoring.PrometheusEnabled {
				metrics.Register()
				run(func() { startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger) })
			}
			run(func() { startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, a.db, a.slotCache, &logger) })
			if cfg.Monitoring.GRPCHealthPort > 0 {
				run(func() { startGRPCHealth(ctx, cfg.Monitoring.GRPCHealthPort, a.db, a.slotCache, &logger) })
			}

			sched := reconcile.NewScheduler(a.reconciler, cfg.ReconcileInterval())
			run(func() { sched.Start(ctx) })

			backups := database.NewBackupService(a.db, cfg.Backup, &logger)
			run(func() { backups.Start(ctx) })

			if cfg.Reminders.Enabled {
				notices, err := newReminderScheduler(cfg, a, &logger)
				if err != nil {
					logger.Error().Err(err).Msg("Session notices disabled")
				} else {
					run(func() { notices.Start(ctx) })
				}
			}

			if cfg.Audit.Enabled {
				svc := newAuditService(cfg, a, &logger)
				svc.Start()
				defer svc.Stop()
			}

			srv := api.NewServer(api.Deps{
				Manager:      a.manager,
				Availability: a.avail,
				Reconciler:   a.reconciler,
				Scheduler:    sched,
				Access:       a.access,
				Venues:       a.db,
			}, api.Config{
				JWTSecret:      cfg.Auth.JWTSecret,
				CallbackAPIKey: cfg.Auth.CallbackAPIKey,
				RateLimit: api.RateLimitConfig{
					Enabled:           cfg.RateLimit.Enabled,
					RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
					Burst:             cfg.RateLimit.Burst,
				},
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
			}, &logger)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port)) }()

			logger.Info().Str("version", Version).Msg("stationd started")

			select {
			case <-ctx.Done():
			case err = <-errCh:
				if err != nil {
					logger.Error().Err(err).Msg("HTTP API stopped")
				}
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Error().Err(shutdownErr).Msg("HTTP shutdown")
			}
			wg.Wait()
			logger.Info().Msg("stationd stopped")
			return err
		},
	}
}

func newReminderScheduler(cfg *config.Config, a *app, logger *zerolog.Logger) (*reminders.Scheduler, error) {
	notifier, err := reminders.NewTelegramNotifier(cfg.Reminders.TelegramBotToken)
	if err != nil {
		return nil, err
	}
	log := reminders.ZerologAdapter{L: logger.With().Str("component", "reminders").Logger()}
	m := reminders.NewMetrics("stationbook", prometheus.DefaultRegisterer)
	store := &sessionStore{db: a.db}
	sender := reminders.NewSender(notifier, store, reminders.DefaultSenderConfig(), m, log)
	return reminders.NewScheduler(reminders.SchedulerConfig{
		Lead:          time.Duration(cfg.Reminders.MinutesBefore) * time.Minute,
		CheckInterval: cfg.ReminderCheckInterval(),
	}, store, sender, m, nil, log), nil
}

func newAuditService(cfg *config.Config, a *app, logger *zerolog.Logger) *audit.Service {
	log := reminders.ZerologAdapter{L: logger.With().Str("component", "audit").Logger()}
	return audit.NewService(&audit.Config{
		ExportDir:         cfg.Audit.ExportDir,
		DataRetentionDays: cfg.Audit.RetentionDays,
	}, a.db, audit.NewExcelizeWriter, a.db, log)
}
