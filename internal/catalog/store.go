// Package catalog holds the per-route stop lists the proximity engine is fed
// with. Snapshots are replaced wholesale and never mutated in place, so a
// slice returned by Stops stays consistent for the whole evaluation.
package catalog

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bustracker/internal/proximity"
)

type Store struct {
	mu       sync.RWMutex
	routes   map[string][]proximity.Stop
	loadedAt time.Time
	log      zerolog.Logger
}

func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		routes: make(map[string][]proximity.Stop),
		log:    logger.With().Str("component", "catalog").Logger(),
	}
}

// Replace swaps in a new catalog. Each route's stops are copied and sorted by
// sequence; duplicate sequence numbers are logged because they silently break
// direction inference. Reached flags of stops that survive the reload, matched
// by route and stop id, are carried over.
func (s *Store) Replace(routes map[string][]proximity.Stop) {
	next := make(map[string][]proximity.Stop, len(routes))
	for routeID, stops := range routes {
		sorted := proximity.SortBySequence(stops)
		if dups := proximity.DuplicateSequences(sorted); len(dups) > 0 {
			s.log.Warn().Str("route", routeID).Ints("sequences", dups).Msg("duplicate stop sequence numbers")
		}
		next[routeID] = sorted
	}

	s.mu.Lock()
	for routeID, stops := range next {
		reached := reachedIDs(s.routes[routeID])
		for i := range stops {
			if reached[stops[i].ID] {
				stops[i].Reached = true
			}
		}
	}
	s.routes = next
	s.loadedAt = time.Now()
	s.mu.Unlock()
}

func reachedIDs(stops []proximity.Stop) map[string]bool {
	ids := make(map[string]bool)
	for _, st := range stops {
		if st.Reached {
			ids[st.ID] = true
		}
	}
	return ids
}

// Stops returns the snapshot for a route. The slice must not be modified.
func (s *Store) Stops(routeID string) ([]proximity.Stop, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stops, ok := s.routes[routeID]
	return stops, ok
}

// Routes returns the known route ids in lexical order.
func (s *Store) Routes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.routes))
	for id := range s.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of routes and the total number of stops.
func (s *Store) Counts() (routes, stops int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.routes {
		stops += len(st)
	}
	return len(s.routes), stops
}

func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// MarkReached flags a stop as reached during the current run. The route's
// snapshot is copied, so slices handed out earlier are unaffected. It reports
// whether the flag changed.
func (s *Store) MarkReached(routeID, stopID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	stops, ok := s.routes[routeID]
	if !ok {
		return false
	}
	for i, st := range stops {
		if st.ID != stopID {
			continue
		}
		if st.Reached {
			return false
		}
		next := append([]proximity.Stop(nil), stops...)
		next[i].Reached = true
		s.routes[routeID] = next
		return true
	}
	return false
}

// ResetReached clears the reached flags of a route, e.g. at the start of a run.
func (s *Store) ResetReached(routeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stops, ok := s.routes[routeID]
	if !ok {
		return
	}
	next := append([]proximity.Stop(nil), stops...)
	for i := range next {
		next[i].Reached = false
	}
	s.routes[routeID] = next
}
