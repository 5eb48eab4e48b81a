// Package dashboard runs the job bodies: it refreshes the data sources that
// are due, composes the frame and hands it to the display adapter.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/display"
	"github.com/brianhealey/inkdash/internal/events"
	"github.com/brianhealey/inkdash/internal/freshness"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/ratelimit"
	"github.com/brianhealey/inkdash/internal/render"
	"github.com/brianhealey/inkdash/internal/snapshot"
	"github.com/brianhealey/inkdash/internal/sources"
)

// Outcome is what happened to one source during a refresh.
type Outcome string

const (
	OutcomeFetched     Outcome = "fetched"
	OutcomeFresh       Outcome = "fresh"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
)

// Result maps source names to their refresh outcome.
type Result map[string]Outcome

// Screen selects what is shown while the cold start fetches data.
type Screen int

const (
	ScreenNone Screen = iota
	ScreenSplash
	ScreenEasterEgg
)

// Publisher receives the snapshots after every main and deep job.
type Publisher interface {
	Publish(ctx context.Context, s models.Snapshots) error
}

// Options wires a Dashboard. Store, Scheduler, Guard, Compositor and
// Display are required.
type Options struct {
	Store      *snapshot.Store
	Scheduler  *freshness.Scheduler
	Guard      *ratelimit.Guard
	Sources    []sources.Source
	Merger     *sources.WeatherMerger
	Compositor *render.Compositor
	Display    *display.Adapter
	Bus        *events.Bus
	Publisher  Publisher

	Location    *time.Location
	Flip        bool
	DrawBorders bool
	Now         func() time.Time
}

// Dashboard owns the job bodies.
type Dashboard struct {
	opts Options

	// needFull is set after a screen replaced the dashboard on the panel; the
	// next tick sends a full frame instead of patching the time rect.
	needFull atomic.Bool
}

// New returns a Dashboard.
func New(o Options) *Dashboard {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Dashboard{opts: o}
}

// Refresh fetches every source in parallel and joins before returning.
// A rate-limited source is always skipped; a still-fresh one is skipped
// unless force is set. The weather document is merged after the join.
func (d *Dashboard) Refresh(ctx context.Context, force bool) Result {
	now := d.opts.Now()
	outcomes := make([]Outcome, len(d.opts.Sources))

	var wg sync.WaitGroup
	for i, src := range d.opts.Sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.refreshOne(ctx, src, now, force)
		}()
	}
	wg.Wait()

	res := make(Result, len(outcomes))
	for i, src := range d.opts.Sources {
		res[src.Name()] = outcomes[i]
	}

	if d.opts.Merger != nil {
		if err := d.opts.Merger.Merge(ctx, now); err != nil {
			slog.Error("dashboard: weather merge failed", "err", err)
		}
	}
	return res
}

func (d *Dashboard) refreshOne(ctx context.Context, src sources.Source, now time.Time, force bool) Outcome {
	name := src.Name()
	if d.opts.Guard.IsBlocked(name, now) {
		until, _ := d.opts.Guard.BlockedUntil(name, now)
		slog.Info("dashboard: source rate limited, skipping",
			"source", name, "until", humanize.RelTime(until, now, "ago", "from now"))
		return OutcomeBlocked
	}
	if !force && !d.opts.Scheduler.ShouldRefresh(name, now) {
		rem := d.opts.Scheduler.Remaining(name, now)
		slog.Debug("dashboard: source still fresh",
			"source", name, "next", humanize.RelTime(now.Add(rem), now, "ago", "from now"))
		return OutcomeFresh
	}

	err := src.Fetch(ctx, now)
	if err == nil {
		d.opts.Scheduler.RecordSuccess(name, now)
		d.opts.Bus.Publish(events.Event{Kind: events.KindFetched, Source: name})
		return OutcomeFetched
	}

	var rl *sources.RateLimitError
	if errors.As(err, &rl) {
		if rerr := d.opts.Guard.RecordLimitHit(name, now); rerr != nil {
			slog.Error("dashboard: could not record rate limit", "source", name, "err", rerr)
		}
		d.opts.Bus.Publish(events.Event{Kind: events.KindRateLimited, Source: name, Message: rl.Error()})
		return OutcomeRateLimited
	}

	if errors.Is(err, sources.ErrNotConfigured) {
		slog.Warn("dashboard: source not configured", "source", name, "err", err)
	} else {
		slog.Error("dashboard: fetch failed, keeping last snapshot", "source", name, "err", err)
	}
	d.opts.Bus.Publish(events.Event{Kind: events.KindFetchFailed, Source: name, Message: err.Error()})
	return OutcomeFailed
}

// Compose builds the frame from the stored snapshots.
func (d *Dashboard) Compose() *render.Frame {
	return d.opts.Compositor.Compose(render.LoadSnapshots(d.opts.Store), d.opts.DrawBorders)
}

// Tick refreshes the clock and patches the time panel. At 21:37 it shows
// the easter egg instead.
func (d *Dashboard) Tick(ctx context.Context) {
	now := d.opts.Now().In(d.opts.Location)
	if now.Hour() == 21 && now.Minute() == 37 {
		if err := d.ShowEasterEgg(ctx); err != nil {
			slog.Error("dashboard: easter egg failed", "err", err)
		}
		return
	}

	d.refreshClock(ctx, now)

	if d.needFull.Load() {
		d.fullUpdate(ctx, display.FullOptions{Flip: d.opts.Flip})
		return
	}

	region, ok := d.opts.Compositor.PanelBounds(config.PanelTime)
	if !ok {
		slog.Debug("dashboard: time panel disabled, nothing to tick")
		return
	}
	err := d.opts.Display.PartialUpdate(ctx, region, func(cv *render.Canvas) error {
		return d.opts.Compositor.RedrawPanel(cv, render.LoadSnapshots(d.opts.Store), config.PanelTime)
	}, d.opts.Flip)
	if err == nil {
		d.opts.Bus.Publish(events.Event{Kind: events.KindDisplayed, Message: "partial"})
	}
}

func (d *Dashboard) refreshClock(ctx context.Context, now time.Time) {
	for _, src := range d.opts.Sources {
		if src.Name() != models.SourceTime {
			continue
		}
		if err := src.Fetch(ctx, now); err != nil {
			slog.Error("dashboard: clock update failed", "err", err)
			return
		}
		d.opts.Scheduler.RecordSuccess(models.SourceTime, now)
		return
	}
}

// Main runs the gated refresh and a full, non-clearing update.
func (d *Dashboard) Main(ctx context.Context) {
	d.Refresh(ctx, false)
	d.fullUpdate(ctx, display.FullOptions{Flip: d.opts.Flip})
	d.publish(ctx)
}

// Deep runs the gated refresh and a full update with ghost clearing and
// pixel shift.
func (d *Dashboard) Deep(ctx context.Context) {
	d.Refresh(ctx, false)
	d.fullUpdate(ctx, display.FullOptions{Clear: true, Shift: true, Flip: d.opts.Flip})
	d.publish(ctx)
}

func (d *Dashboard) fullUpdate(ctx context.Context, o display.FullOptions) {
	frame := d.Compose()
	if err := d.opts.Display.FullUpdate(ctx, frame, o); err != nil {
		return
	}
	d.needFull.Store(false)
	d.opts.Bus.Publish(events.Event{Kind: events.KindDisplayed, Message: "full"})
}

func (d *Dashboard) publish(ctx context.Context) {
	if d.opts.Publisher == nil {
		return
	}
	if err := d.opts.Publisher.Publish(ctx, render.LoadSnapshots(d.opts.Store)); err != nil {
		slog.Warn("dashboard: publish failed", "err", err)
	}
}

// ColdStart shows the startup screen while every source is fetched
// unconditionally, waits for the screen, then sends the first full frame
// with clear and shift.
func (d *Dashboard) ColdStart(ctx context.Context, screen Screen) Result {
	var wg sync.WaitGroup
	if screen != ScreenNone {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			switch screen {
			case ScreenSplash:
				err = d.ShowSplash(ctx)
			case ScreenEasterEgg:
				err = d.ShowEasterEgg(ctx)
			}
			if err != nil {
				slog.Error("dashboard: startup screen failed", "err", err)
			}
		}()
	}

	res := d.Refresh(ctx, true)
	wg.Wait()

	d.fullUpdate(ctx, display.FullOptions{Clear: true, Shift: true, Flip: d.opts.Flip})
	d.publish(ctx)
	return res
}

// ShowSplash displays the startup splash screen.
func (d *Dashboard) ShowSplash(ctx context.Context) error {
	slog.Info("dashboard: showing splash screen")
	if err := d.opts.Display.Show(ctx, d.opts.Compositor.Splash(), d.opts.Flip); err != nil {
		return err
	}
	d.needFull.Store(true)
	return nil
}

// ShowEasterEgg displays the 21:37 screen.
func (d *Dashboard) ShowEasterEgg(ctx context.Context) error {
	frame, err := d.opts.Compositor.EasterEgg()
	if err != nil {
		return err
	}
	slog.Info("dashboard: showing easter egg")
	if err := d.opts.Display.Show(ctx, frame, d.opts.Flip); err != nil {
		return err
	}
	d.needFull.Store(true)
	return nil
}

// Shutdown persists the refresh state and clears the panel.
func (d *Dashboard) Shutdown(ctx context.Context) {
	if err := d.opts.Scheduler.Save(); err != nil {
		slog.Error("dashboard: could not save refresh state", "err", err)
	}
	if err := d.opts.Display.Clear(ctx); err != nil {
		slog.Warn("dashboard: clear on shutdown failed", "err", err)
	}
}

// Force marks source as due on the next gated refresh.
func (d *Dashboard) Force(source string) { d.opts.Scheduler.Force(source) }

// SourceStatus is the freshness and rate-limit state of one source.
type SourceStatus struct {
	freshness.Status
	NextIn       string     `json:"next_in"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

// Status reports every source for diagnostics.
func (d *Dashboard) Status() []SourceStatus {
	now := d.opts.Now()
	snap := d.opts.Scheduler.Snapshot(now)
	out := make([]SourceStatus, 0, len(snap))
	for _, st := range snap {
		ss := SourceStatus{Status: st, NextIn: "now"}
		if st.Remaining > 0 {
			ss.NextIn = humanize.RelTime(now.Add(st.Remaining), now, "ago", "from now")
		}
		if until, ok := d.opts.Guard.BlockedUntil(st.Source, now); ok {
			u := until
			ss.BlockedUntil = &u
		}
		out = append(out, ss)
	}
	return out
}

// DisplayStatus reports the adapter state.
func (d *Dashboard) DisplayStatus() display.Status { return d.opts.Display.Status() }

// CachedFrame returns the last frame sent to the panel.
func (d *Dashboard) CachedFrame() (*render.Frame, error) { return d.opts.Display.CachedFrame() }
