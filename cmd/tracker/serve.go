package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bustracker/internal/api"
	"bustracker/internal/catalog"
	"bustracker/internal/db"
	"bustracker/internal/ingest"
	"bustracker/internal/metrics"
	"bustracker/internal/notify"
	"bustracker/internal/publisher"
	"bustracker/internal/report"
	"bustracker/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume fixes from NATS and publish proximity events",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var migrate bool

func init() {
	serveCmd.Flags().BoolVar(&migrate, "migrate", false, "Create missing tables before starting")
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	if err := report.Setup(cfg.SentryDSN, cfg.Env, version); err != nil {
		logger.Warn().Err(err).Msg("sentry disabled")
	}
	defer report.Flush()

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mcol := metrics.NewCollector(cfg.ThresholdKm, cfg.CatalogRefreshInterval, cfg.VehicleStaleAfter)

	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		sqlDB, err = openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		if migrate {
			if err := db.Migrate(ctx, sqlDB); err != nil {
				return err
			}
		}
	}

	// Stop catalog, reloaded in the background
	src, err := catalogSource(cfg, sqlDB)
	if err != nil {
		return err
	}
	store := catalog.NewStore(logger)
	refresher := catalog.NewRefresher(src, store, cfg.CatalogRefreshInterval, mcol, logger)
	refresher.OnError(report.Component("catalog"))
	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	registry := notify.NewRegistry()
	var subscriptions api.SubscriptionStore
	if sqlDB != nil {
		subStore := db.SubscriptionStore{DB: sqlDB}
		subs, err := subStore.Load(ctx)
		if err != nil {
			return err
		}
		registry.Replace(subs)
		subscriptions = subStore
		logger.Info().Int("subscriptions", len(subs)).Msg("subscriptions loaded")
	}

	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, publisher.Subjects{
		Events: cfg.EventSubjectPrefix,
		Notify: cfg.NotifySubjectPrefix,
	}, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol), logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	opts := tracker.Options{
		ThresholdKm: cfg.ThresholdKm,
		Fallback:    cfg.Fallback,
		StaleAfter:  cfg.VehicleStaleAfter,
		Publishers:  []tracker.EventPublisher{pub},
		Notifier:    notify.NewNotifier(registry, pub, mcol, cfg.Location, logger),
		Metrics:     mcol,
		Logger:      logger,
		OnError:     report.Component("tracker"),
	}
	if sqlDB != nil {
		opts.Publishers = append(opts.Publishers, db.EventLog{DB: sqlDB})
		opts.Reached = db.ReachedStore{DB: sqlDB}
	}
	mgr := tracker.NewManager(store, opts)
	mgr.StartJanitor(ctx, cfg.VehicleStaleAfter/2)
	defer mgr.Stop()

	g, gctx := errgroup.WithContext(ctx)

	fixes := make(chan ingest.Fix, 256)
	sub, err := pub.SubscribeFixes(gctx, cfg.FixSubject, fixes, func(err error) {
		reason := ingest.Reason(err)
		if errors.Is(err, publisher.ErrFixDropped) {
			reason = "dropped"
		}
		mcol.FixReceived()
		mcol.FixRejected(reason)
		logger.Debug().Err(err).Msg("fix rejected")
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	app := &api.Application{
		Env:           cfg.Env,
		Version:       version,
		ThresholdKm:   cfg.ThresholdKm,
		Catalog:       store,
		Tracker:       mgr,
		Registry:      registry,
		Subscriptions: subscriptions,
		Metrics:       mcol.Handler(),
		Logger:        logger,
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = mcol.Serve(cfg.MetricsAddr, logger)
	}

	g.Go(func() error {
		if err := mgr.Run(gctx, fixes); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info().Msg("shutdown complete")
	return err
}
