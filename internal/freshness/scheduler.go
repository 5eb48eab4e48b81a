// Package freshness decides whether a data source is due for a refresh.
//
// Each source has a minimum interval between successful refreshes. The time
// of the last success is persisted so a restart does not hammer upstream
// APIs that were queried a few minutes earlier.
package freshness

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// StateDoc is the document name the refresh state is persisted under.
const StateDoc = "refresh_state"

// Persister is the storage the scheduler saves its state to.
// *snapshot.Store satisfies it.
type Persister interface {
	Read(name string, v any) error
	Write(name string, v any) error
}

// Scheduler tracks the last successful refresh per source.
type Scheduler struct {
	mu        sync.Mutex
	store     Persister
	intervals map[string]time.Duration
	last      map[string]time.Time
}

// New creates a scheduler with the given per-source minimum intervals. A
// source missing from intervals is refreshed on every check.
func New(store Persister, intervals map[string]time.Duration) *Scheduler {
	iv := make(map[string]time.Duration, len(intervals))
	for k, v := range intervals {
		iv[k] = v
	}
	return &Scheduler{
		store:     store,
		intervals: iv,
		last:      make(map[string]time.Time),
	}
}

// Load restores the last-update times. A missing or corrupt state document
// leaves every source in the never-updated state and is not an error.
func (s *Scheduler) Load() {
	raw := map[string]string{}
	err := s.store.Read(StateDoc, &raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = make(map[string]time.Time)
	if err != nil {
		slog.Warn("freshness: no usable refresh state, all sources will refresh", "err", err)
		return
	}
	for src, ts := range raw {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			slog.Warn("freshness: ignoring bad timestamp", "source", src, "value", ts, "err", err)
			continue
		}
		s.last[src] = t
	}
	slog.Debug("freshness: loaded refresh state", "sources", len(s.last))
}

// Save persists the last-update times.
func (s *Scheduler) Save() error {
	s.mu.Lock()
	raw := make(map[string]string, len(s.last))
	for src, t := range s.last {
		raw[src] = t.UTC().Format(time.RFC3339Nano)
	}
	s.mu.Unlock()

	if err := s.store.Write(StateDoc, raw); err != nil {
		return fmt.Errorf("freshness: save: %w", err)
	}
	return nil
}

// ShouldRefresh reports whether source is due at now: it has never been
// refreshed, or at least its minimum interval has elapsed since the last
// success.
func (s *Scheduler) ShouldRefresh(source string, now time.Time) bool {
	return s.Remaining(source, now) == 0
}

// Remaining returns how long until source becomes due. Zero means due now.
func (s *Scheduler) Remaining(source string, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[source]
	if !ok {
		return 0
	}
	left := s.intervals[source] - now.Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

// RecordSuccess marks source as refreshed at now. Call it only after the
// fetch and parse both succeeded.
func (s *Scheduler) RecordSuccess(source string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[source] = now
}

// Force forgets the last success of source so the next check refreshes it.
func (s *Scheduler) Force(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, source)
}

// Interval returns the configured minimum interval for source.
func (s *Scheduler) Interval(source string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervals[source]
}

// Status describes one source for diagnostics.
type Status struct {
	Source     string        `json:"source"`
	LastUpdate *time.Time    `json:"last_update,omitempty"`
	Interval   time.Duration `json:"interval_ns"`
	Remaining  time.Duration `json:"remaining_ns"`
	Due        bool          `json:"due"`
}

// Snapshot returns the status of every configured or recorded source,
// sorted by name.
func (s *Scheduler) Snapshot(now time.Time) []Status {
	s.mu.Lock()
	names := make(map[string]struct{}, len(s.intervals))
	for n := range s.intervals {
		names[n] = struct{}{}
	}
	for n := range s.last {
		names[n] = struct{}{}
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(names))
	for n := range names {
		st := Status{Source: n, Interval: s.Interval(n), Remaining: s.Remaining(n, now)}
		st.Due = st.Remaining == 0
		s.mu.Lock()
		if t, ok := s.last[n]; ok {
			t := t
			st.LastUpdate = &t
		}
		s.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
