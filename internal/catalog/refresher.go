package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bustracker/internal/proximity"
)

// Source loads the full stop catalog, keyed by route id.
type Source interface {
	LoadRoutes(ctx context.Context) (map[string][]proximity.Stop, error)
}

// RefreshMetrics receives the outcome of every reload together with the
// counts of the catalog being served afterwards. It may be nil.
type RefreshMetrics interface {
	CatalogRefreshed(ok bool, routes, stops int)
}

// Refresher periodically reloads a Source into a Store. A failed reload keeps
// the previous snapshot.
type Refresher struct {
	source   Source
	store    *Store
	interval time.Duration
	metrics  RefreshMetrics
	log      zerolog.Logger
	onError  func(error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRefresher(source Source, store *Store, interval time.Duration, metrics RefreshMetrics, logger zerolog.Logger) *Refresher {
	return &Refresher{
		source:   source,
		store:    store,
		interval: interval,
		metrics:  metrics,
		log:      logger.With().Str("component", "catalog_refresher").Logger(),
	}
}

// OnError registers a hook called with every failed reload.
func (r *Refresher) OnError(fn func(error)) { r.onError = fn }

// Refresh loads the source once and replaces the store contents.
func (r *Refresher) Refresh(ctx context.Context) error {
	routes, err := r.source.LoadRoutes(ctx)
	if err != nil {
		if r.metrics != nil {
			nRoutes, nStops := r.store.Counts()
			r.metrics.CatalogRefreshed(false, nRoutes, nStops)
		}
		return fmt.Errorf("load stop catalog: %w", err)
	}
	r.store.Replace(routes)
	nRoutes, nStops := r.store.Counts()
	if r.metrics != nil {
		r.metrics.CatalogRefreshed(true, nRoutes, nStops)
	}
	r.log.Info().Int("routes", nRoutes).Int("stops", nStops).Msg("stop catalog loaded")
	return nil
}

// Start performs an immediate refresh and then reloads every interval until
// ctx is cancelled or Stop is called. A non-positive interval disables the
// periodic reloads.
func (r *Refresher) Start(parent context.Context) error {
	if err := r.Refresh(parent); err != nil {
		return err
	}
	if r.interval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					r.log.Error().Err(err).Msg("refresh stop catalog")
					if r.onError != nil {
						r.onError(err)
					}
				}
			}
		}
	}()
	return nil
}

func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
