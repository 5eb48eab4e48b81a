package dashboard

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/brianhealey/inkdash/internal/assets"
	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/display"
	"github.com/brianhealey/inkdash/internal/epd"
	"github.com/brianhealey/inkdash/internal/events"
	"github.com/brianhealey/inkdash/internal/freshness"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/ratelimit"
	"github.com/brianhealey/inkdash/internal/render"
	"github.com/brianhealey/inkdash/internal/snapshot"
	"github.com/brianhealey/inkdash/internal/sources"
)

type fakeSource struct {
	name  string
	err   error
	calls atomic.Int32
	fetch func(ctx context.Context) error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, _ time.Time) error {
	f.calls.Add(1)
	if f.fetch != nil {
		return f.fetch(ctx)
	}
	return f.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []models.Snapshots
}

func (p *recordingPublisher) Publish(_ context.Context, s models.Snapshots) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
	return nil
}

type harness struct {
	dash  *Dashboard
	mock  *epd.Mock
	store *snapshot.Store
	sched *freshness.Scheduler
	guard *ratelimit.Guard
	clock *testClock
	bus   *events.Bus
}

var start = time.Date(2025, 3, 12, 10, 30, 1, 0, time.UTC)

func newHarness(t *testing.T, srcs ...sources.Source) *harness {
	t.Helper()
	dir := t.TempDir()
	store := snapshot.New(filepath.Join(dir, "snap"))
	clock := &testClock{now: start}
	sched := freshness.New(store, map[string]time.Duration{
		models.SourceTime:       time.Minute,
		models.SourceAirQuality: 15 * time.Minute,
		models.SourceWeather:    30 * time.Minute,
		models.SourceCalendar:   30 * time.Minute,
	})
	guard := ratelimit.New(filepath.Join(dir, "ratelimit"), time.Hour)
	mock := epd.NewMock()

	egg := filepath.Join(dir, "egg.png")
	if err := imaging.Save(imaging.New(40, 40, image.White), egg); err != nil {
		t.Fatal(err)
	}
	layout := config.Layout{Panels: map[string]config.PanelConfig{
		config.PanelTime:    {Rect: []int{0, 0, 399, 199}},
		config.PanelWeather: {Rect: []int{400, 0, 799, 199}},
		config.PanelEvents:  {Rect: []int{0, 200, 399, 399}},
	}}
	comp := render.New(layout, render.Options{
		Bounds:   mock.Bounds(),
		Fonts:    render.FallbackFonts(),
		Icons:    render.NewIconCache(filepath.Join(dir, "icons")),
		Assets:   assets.Paths{EasterEgg: egg},
		Location: time.UTC,
		Now:      clock.Now,
	})

	all := append([]sources.Source{sources.NewClock(store, time.UTC)}, srcs...)
	bus := events.NewBus()
	d := New(Options{
		Store:      store,
		Scheduler:  sched,
		Guard:      guard,
		Sources:    all,
		Compositor: comp,
		Display:    display.New(mock, &sync.Mutex{}, filepath.Join(dir, "frame")),
		Bus:        bus,
		Location:   time.UTC,
		Now:        clock.Now,
	})
	return &harness{dash: d, mock: mock, store: store, sched: sched, guard: guard, clock: clock, bus: bus}
}

func callsEqual(t *testing.T, got []string, want ...string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestDashboard_RefreshJoinsParallelFetches(t *testing.T) {
	const n = 3
	var started atomic.Int32
	all := make(chan struct{})
	var written atomic.Int32

	barrier := func(ctx context.Context) error {
		if started.Add(1) == n {
			close(all)
		}
		select {
		case <-all:
		case <-time.After(2 * time.Second):
			return errors.New("fetches did not run concurrently")
		}
		time.Sleep(10 * time.Millisecond)
		written.Add(1)
		return nil
	}
	a := &fakeSource{name: models.SourceAirQuality, fetch: barrier}
	w := &fakeSource{name: models.SourceWeather, fetch: barrier}
	c := &fakeSource{name: models.SourceCalendar, fetch: barrier}
	h := newHarness(t, a, w, c)

	res := h.dash.Refresh(context.Background(), false)

	if got := written.Load(); got != n {
		t.Fatalf("Refresh returned before all fetches finished: %d/%d", got, n)
	}
	for _, name := range []string{models.SourceAirQuality, models.SourceWeather, models.SourceCalendar, models.SourceTime} {
		if res[name] != OutcomeFetched {
			t.Errorf("%s outcome = %q, want fetched", name, res[name])
		}
	}
}

func TestDashboard_RefreshSkipsFreshSources(t *testing.T) {
	w := &fakeSource{name: models.SourceWeather}
	h := newHarness(t, w)
	ctx := context.Background()

	h.dash.Refresh(ctx, false)
	h.clock.Set(start.Add(10 * time.Minute))
	res := h.dash.Refresh(ctx, false)

	if res[models.SourceWeather] != OutcomeFresh {
		t.Errorf("weather outcome = %q, want fresh", res[models.SourceWeather])
	}
	if res[models.SourceTime] != OutcomeFetched {
		t.Errorf("time outcome = %q, want fetched", res[models.SourceTime])
	}
	if got := w.calls.Load(); got != 1 {
		t.Errorf("weather fetched %d times, want 1", got)
	}

	h.clock.Set(start.Add(30 * time.Minute))
	if res := h.dash.Refresh(ctx, false); res[models.SourceWeather] != OutcomeFetched {
		t.Errorf("after the interval, weather outcome = %q, want fetched", res[models.SourceWeather])
	}
}

func TestDashboard_FailedFetchIsRetriedNextRefresh(t *testing.T) {
	w := &fakeSource{name: models.SourceWeather, err: errors.New("boom")}
	h := newHarness(t, w)
	ctx := context.Background()

	if res := h.dash.Refresh(ctx, false); res[models.SourceWeather] != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", res[models.SourceWeather])
	}
	if !h.sched.ShouldRefresh(models.SourceWeather, start) {
		t.Fatal("a failed fetch must not record success")
	}
	h.dash.Refresh(ctx, false)
	if got := w.calls.Load(); got != 2 {
		t.Errorf("weather fetched %d times, want 2", got)
	}
}

func TestDashboard_RateLimitStartsCooldown(t *testing.T) {
	w := &fakeSource{name: models.SourceWeather,
		err: fmt.Errorf("weather: %w", &sources.RateLimitError{Source: models.SourceWeather, Code: 503})}
	h := newHarness(t, w)
	ctx := context.Background()
	sub := h.bus.Subscribe("test")

	if res := h.dash.Refresh(ctx, false); res[models.SourceWeather] != OutcomeRateLimited {
		t.Fatalf("outcome = %q, want rate_limited", res[models.SourceWeather])
	}
	if !h.guard.IsBlocked(models.SourceWeather, start) {
		t.Fatal("rate limit hit was not recorded")
	}

	h.clock.Set(start.Add(45 * time.Minute))
	if res := h.dash.Refresh(ctx, false); res[models.SourceWeather] != OutcomeBlocked {
		t.Errorf("outcome during cooldown = %q, want blocked", res[models.SourceWeather])
	}
	if got := w.calls.Load(); got != 1 {
		t.Errorf("weather fetched %d times during cooldown, want 1", got)
	}

	if res := h.dash.Refresh(ctx, true); res[models.SourceWeather] != OutcomeBlocked {
		t.Errorf("forced outcome during cooldown = %q, want blocked", res[models.SourceWeather])
	}
	if got := w.calls.Load(); got != 1 {
		t.Errorf("forced refresh fetched during cooldown: %d calls", got)
	}

	h.clock.Set(start.Add(61 * time.Minute))
	h.dash.Refresh(ctx, false)
	if got := w.calls.Load(); got != 2 {
		t.Errorf("weather fetched %d times after cooldown, want 2", got)
	}

	var sawLimit bool
	for {
		select {
		case ev := <-sub:
			if ev.Kind == events.KindRateLimited && ev.Source == models.SourceWeather {
				sawLimit = true
			}
			continue
		default:
		}
		break
	}
	if !sawLimit {
		t.Error("no rate_limited event published")
	}
}

func TestDashboard_TickSkippedBeforeFirstFullUpdate(t *testing.T) {
	h := newHarness(t)

	h.dash.Tick(context.Background())

	if calls := h.mock.Calls(); len(calls) != 0 {
		t.Errorf("device touched without a cached frame: %v", calls)
	}
	var td models.TimeData
	if err := h.store.Read(models.DocTime, &td); err != nil || td.Time != "10:30" {
		t.Errorf("time snapshot = %+v, %v", td, err)
	}
}

func TestDashboard_TickPatchesTimePanel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.dash.Main(ctx)
	callsEqual(t, h.mock.Calls(), epd.OpInit, epd.OpDisplay, epd.OpSleep)
	h.mock.Reset()

	h.clock.Set(start.Add(time.Minute))
	h.dash.Tick(ctx)

	callsEqual(t, h.mock.Calls(), epd.OpInitFast, epd.OpDisplayPartial, epd.OpSleep)
	_, _, region := h.mock.Last()
	if !region.In(image.Rect(0, 0, 400, 200)) {
		t.Errorf("partial region %v outside the time panel", region)
	}
}

func TestDashboard_EasterEggAt2137(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.dash.Main(ctx)
	h.mock.Reset()

	h.clock.Set(time.Date(2025, 3, 12, 21, 37, 1, 0, time.UTC))
	h.dash.Tick(ctx)
	callsEqual(t, h.mock.Calls(), epd.OpInit, epd.OpClear, epd.OpDisplay, epd.OpSleep)
	h.mock.Reset()

	// The egg replaced the whole panel, so the next tick redraws everything.
	h.clock.Set(time.Date(2025, 3, 12, 21, 38, 1, 0, time.UTC))
	h.dash.Tick(ctx)
	callsEqual(t, h.mock.Calls(), epd.OpInit, epd.OpDisplay, epd.OpSleep)
	h.mock.Reset()

	h.clock.Set(time.Date(2025, 3, 12, 21, 39, 1, 0, time.UTC))
	h.dash.Tick(ctx)
	callsEqual(t, h.mock.Calls(), epd.OpInitFast, epd.OpDisplayPartial, epd.OpSleep)
}

func TestDashboard_DeepClearsAndPublishes(t *testing.T) {
	h := newHarness(t)
	pub := &recordingPublisher{}
	h.dash.opts.Publisher = pub

	h.dash.Deep(context.Background())

	callsEqual(t, h.mock.Calls(), epd.OpInit, epd.OpClear, epd.OpDisplay, epd.OpSleep)
	if len(pub.snaps) != 1 {
		t.Fatalf("published %d times, want 1", len(pub.snaps))
	}
	if pub.snaps[0].Time.Time != "10:30" {
		t.Errorf("published time = %q", pub.snaps[0].Time.Time)
	}
}

func TestDashboard_ColdStartShowsSplashFirst(t *testing.T) {
	w := &fakeSource{name: models.SourceWeather}
	h := newHarness(t, w)
	// A fresh weather record must not stop the cold start from fetching.
	h.sched.RecordSuccess(models.SourceWeather, start)

	res := h.dash.ColdStart(context.Background(), ScreenSplash)

	if res[models.SourceWeather] != OutcomeFetched {
		t.Errorf("weather outcome = %q, want fetched", res[models.SourceWeather])
	}
	callsEqual(t, h.mock.Calls(),
		epd.OpInit, epd.OpClear, epd.OpDisplay, epd.OpSleep,
		epd.OpInit, epd.OpClear, epd.OpDisplay, epd.OpSleep)
	if _, err := h.dash.CachedFrame(); err != nil {
		t.Errorf("no frame cached after cold start: %v", err)
	}
}

func TestDashboard_ColdStartHonoursRateLimit(t *testing.T) {
	w := &fakeSource{name: models.SourceWeather}
	a := &fakeSource{name: models.SourceAirQuality}
	h := newHarness(t, w, a)
	// Left over from the previous run of the daemon.
	if err := h.guard.RecordLimitHit(models.SourceWeather, start.Add(-10*time.Minute)); err != nil {
		t.Fatal(err)
	}

	res := h.dash.ColdStart(context.Background(), ScreenNone)

	if res[models.SourceWeather] != OutcomeBlocked {
		t.Errorf("weather outcome = %q, want blocked", res[models.SourceWeather])
	}
	if got := w.calls.Load(); got != 0 {
		t.Errorf("weather fetched %d times while blocked", got)
	}
	if res[models.SourceAirQuality] != OutcomeFetched || a.calls.Load() != 1 {
		t.Errorf("air quality outcome = %q, calls = %d", res[models.SourceAirQuality], a.calls.Load())
	}
	if _, err := h.dash.CachedFrame(); err != nil {
		t.Errorf("no frame cached after cold start: %v", err)
	}
}

func TestDashboard_ShutdownSavesStateAndClears(t *testing.T) {
	h := newHarness(t)
	h.dash.Refresh(context.Background(), false)

	h.dash.Shutdown(context.Background())

	callsEqual(t, h.mock.Calls(), epd.OpInit, epd.OpClear, epd.OpSleep)
	restored := freshness.New(h.store, map[string]time.Duration{models.SourceTime: time.Minute})
	restored.Load()
	if restored.ShouldRefresh(models.SourceTime, start) {
		t.Error("refresh state was not persisted")
	}
}

func TestDashboard_StatusReportsBlockedSources(t *testing.T) {
	h := newHarness(t)
	if err := h.guard.RecordLimitHit(models.SourceWeather, start); err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, st := range h.dash.Status() {
		if st.Source != models.SourceWeather {
			continue
		}
		found = true
		if st.BlockedUntil == nil || !st.BlockedUntil.Equal(start.Add(time.Hour)) {
			t.Errorf("BlockedUntil = %v", st.BlockedUntil)
		}
		if st.NextIn != "now" {
			t.Errorf("NextIn = %q, want now", st.NextIn)
		}
	}
	if !found {
		t.Error("weather missing from status")
	}
}
