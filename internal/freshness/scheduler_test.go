package freshness_test

import (
	"os"
	"testing"
	"time"

	"github.com/brianhealey/inkdash/internal/freshness"
	"github.com/brianhealey/inkdash/internal/snapshot"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*freshness.Scheduler, *snapshot.Store) {
	t.Helper()
	store := snapshot.New(t.TempDir())
	s := freshness.New(store, map[string]time.Duration{
		"weather":     30 * time.Minute,
		"air_quality": 15 * time.Minute,
		"time":        time.Minute,
	})
	return s, store
}

func TestScheduler_NeverUpdatedIsDue(t *testing.T) {
	s, _ := newTestScheduler(t)
	for _, src := range []string{"weather", "air_quality", "time", "unknown"} {
		if !s.ShouldRefresh(src, t0) {
			t.Errorf("ShouldRefresh(%q) = false for never-updated source", src)
		}
	}
}

func TestScheduler_IntervalBoundary(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.RecordSuccess("weather", t0)

	cases := []struct {
		after time.Duration
		want  bool
	}{
		{0, false},
		{time.Minute, false},
		{30*time.Minute - time.Nanosecond, false},
		{30 * time.Minute, true},
		{2 * time.Hour, true},
	}
	for _, c := range cases {
		if got := s.ShouldRefresh("weather", t0.Add(c.after)); got != c.want {
			t.Errorf("ShouldRefresh after %v = %v, want %v", c.after, got, c.want)
		}
	}
}

func TestScheduler_Remaining(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.RecordSuccess("air_quality", t0)
	if got := s.Remaining("air_quality", t0.Add(5*time.Minute)); got != 10*time.Minute {
		t.Errorf("Remaining() = %v, want 10m", got)
	}
	if got := s.Remaining("air_quality", t0.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining() after interval = %v, want 0", got)
	}
}

func TestScheduler_SourcesAreIndependent(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.RecordSuccess("weather", t0)
	if !s.ShouldRefresh("air_quality", t0) {
		t.Error("recording weather affected air_quality")
	}
}

func TestScheduler_FailureLeavesStateUnchanged(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.RecordSuccess("time", t0)
	// A failed fetch at t0+2m does not call RecordSuccess; the source stays due.
	if !s.ShouldRefresh("time", t0.Add(2*time.Minute)) {
		t.Fatal("time should be due")
	}
	if !s.ShouldRefresh("time", t0.Add(3*time.Minute)) {
		t.Error("source stopped being due without a recorded success")
	}
}

func TestScheduler_SaveLoadRoundTrip(t *testing.T) {
	s, store := newTestScheduler(t)
	s.RecordSuccess("weather", t0)
	s.RecordSuccess("air_quality", t0.Add(time.Minute))
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	restarted := freshness.New(store, map[string]time.Duration{"weather": 30 * time.Minute, "air_quality": 15 * time.Minute})
	restarted.Load()
	if restarted.ShouldRefresh("weather", t0.Add(10*time.Minute)) {
		t.Error("weather due after restart within interval")
	}
	if got := restarted.Remaining("air_quality", t0.Add(time.Minute)); got != 15*time.Minute {
		t.Errorf("air_quality Remaining after restart = %v, want 15m", got)
	}
}

func TestScheduler_LoadCorruptFile(t *testing.T) {
	s, store := newTestScheduler(t)
	if err := os.WriteFile(store.Path(freshness.StateDoc), []byte("[[[garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	s.RecordSuccess("weather", t0)
	s.Load()
	if !s.ShouldRefresh("weather", t0) {
		t.Error("corrupt state file should reset to never-updated")
	}
}

func TestScheduler_LoadMissingFile(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Load()
	if !s.ShouldRefresh("weather", t0) {
		t.Error("missing state file should mean never-updated")
	}
}

func TestScheduler_Force(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.RecordSuccess("weather", t0)
	s.Force("weather")
	if !s.ShouldRefresh("weather", t0) {
		t.Error("Force() did not make the source due")
	}
}

func TestScheduler_Snapshot(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.RecordSuccess("weather", t0)
	st := s.Snapshot(t0.Add(time.Minute))
	if len(st) != 3 {
		t.Fatalf("Snapshot() len = %d, want 3", len(st))
	}
	if st[0].Source != "air_quality" || !st[0].Due || st[0].LastUpdate != nil {
		t.Errorf("air_quality status = %+v", st[0])
	}
	w := st[2]
	if w.Source != "weather" || w.Due || w.Remaining != 29*time.Minute {
		t.Errorf("weather status = %+v", w)
	}
}
