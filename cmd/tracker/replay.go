package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bustracker/internal/config"
	"bustracker/internal/db"
	"bustracker/internal/ingest"
	"bustracker/internal/tracker"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Evaluate recorded fixes against the stop catalog",
	Long: `Backtests proximity and direction inference over a CSV export
(vehicle_id,route_id,latitude,longitude,timestamp) or the vehicle_fixes table.`,
	Args: cobra.NoArgs,
	RunE: replay,
}

var (
	replayCSV      string
	replayVehicle  string
	replayFrom     string
	replayTo       string
	replayDatabase string
	replayWorkers  int
	replayJSON     bool
)

func init() {
	replayCmd.Flags().StringVar(&replayCSV, "csv", "", "CSV file with recorded fixes")
	replayCmd.Flags().StringVarP(&replayVehicle, "vehicle", "v", "", "Vehicle id to replay from Postgres (empty for all)")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start of the replay window (RFC3339)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End of the replay window (RFC3339), defaults to now")
	replayCmd.Flags().StringVar(&replayDatabase, "database", "", "Read fixes from another database on the same server")
	replayCmd.Flags().IntVarP(&replayWorkers, "workers", "w", 4, "Vehicles evaluated in parallel")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Print one JSON event per line")
}

func replay(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	fixes, err := loadFixes(ctx, cfg)
	if err != nil {
		return err
	}
	routes, err := loadRoutes(ctx, cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	events, err := tracker.Replay(ctx, fixes, routes, tracker.ReplayOptions{
		ThresholdKm: cfg.ThresholdKm,
		Fallback:    cfg.Fallback,
		StaleAfter:  cfg.VehicleStaleAfter,
		Workers:     replayWorkers,
	})
	if err != nil {
		return err
	}
	logger.Info().Int("fixes", len(fixes)).Int("events", len(events)).Dur("took", time.Since(start)).Msg("replay finished")

	return printEvents(cmd.OutOrStdout(), events, replayJSON, cfg.Location)
}

func loadFixes(ctx context.Context, cfg *config.Config) ([]ingest.Fix, error) {
	if replayCSV != "" {
		f, err := os.Open(replayCSV)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ingest.ReadCSV(f)
	}

	if replayFrom == "" {
		return nil, fmt.Errorf("either --csv or --from is required")
	}
	from, err := time.Parse(time.RFC3339, replayFrom)
	if err != nil {
		return nil, fmt.Errorf("invalid --from: %w", err)
	}
	to := time.Now()
	if replayTo != "" {
		if to, err = time.Parse(time.RFC3339, replayTo); err != nil {
			return nil, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !to.After(from) {
		return nil, fmt.Errorf("--to must be after --from")
	}

	dsn := cfg.DatabaseURL
	if dsn == "" {
		return nil, fmt.Errorf("replaying from Postgres needs DATABASE_URL or PGDATABASE")
	}
	if replayDatabase != "" {
		if dsn, err = db.WithDBName(dsn, replayDatabase); err != nil {
			return nil, fmt.Errorf("compose DSN: %w", err)
		}
	}
	sqlDB, err := openDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer sqlDB.Close()
	return db.FetchFixes(ctx, sqlDB, replayVehicle, from, to)
}

func printEvents(w io.Writer, events []tracker.ProximityEvent, asJSON bool, loc *time.Location) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}
	for _, ev := range events {
		if _, err := fmt.Fprintln(w, formatEvent(ev, loc)); err != nil {
			return err
		}
	}
	return nil
}

func formatEvent(ev tracker.ProximityEvent, loc *time.Location) string {
	return fmt.Sprintf("%s %s route=%s nearest=%s dist=%.3fkm match=%s resolved=%s direction=%s displayed=%s",
		ev.Time().In(loc).Format(time.RFC3339), ev.VehicleID, ev.RouteID, ev.NearestStopID, ev.DistanceKm,
		ev.Match, orDash(ev.ResolvedStopID), ev.Direction, ev.DisplayedDirection)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
