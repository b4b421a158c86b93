package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bustracker/internal/catalog"
	"bustracker/internal/config"
	"bustracker/internal/db"
	"bustracker/internal/logging"
	"bustracker/internal/metrics"
	"bustracker/internal/proximity"
	"bustracker/internal/publisher"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "tracker",
	Short:        "Bus stop proximity tracker",
	Long:         "Resolves the stop a bus is at and its direction of travel from GPS fixes.",
	SilenceUsage: true,
	Version:      version,
}

func init() {
	rootCmd.AddCommand(serveCmd, replayCmd, nearestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command uses.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.With().Str("env", cfg.Env).Logger(), nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return sqlDB, nil
}

// catalogSource picks where stops come from: a YAML file, then a GTFS zip,
// then Postgres.
func catalogSource(cfg *config.Config, sqlDB *sql.DB) (catalog.Source, error) {
	switch {
	case cfg.CatalogFile != "":
		return catalog.FileSource{Path: cfg.CatalogFile}, nil
	case cfg.GTFSPath != "":
		return catalog.GTFSSource{Path: cfg.GTFSPath, RouteIDs: cfg.CatalogRoutes}, nil
	case sqlDB != nil:
		return db.StopSource{DB: sqlDB, RouteIDs: cfg.CatalogRoutes}, nil
	default:
		return nil, fmt.Errorf("no stop catalog configured")
	}
}

// loadRoutes reads the catalog once, for the one-shot commands.
func loadRoutes(ctx context.Context, cfg *config.Config) (map[string][]proximity.Stop, error) {
	var sqlDB *sql.DB
	if cfg.CatalogFile == "" && cfg.GTFSPath == "" {
		var err error
		sqlDB, err = openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer sqlDB.Close()
	}
	src, err := catalogSource(cfg, sqlDB)
	if err != nil {
		return nil, err
	}
	return src.LoadRoutes(ctx)
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
