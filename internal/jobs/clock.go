// Package jobs schedules the dashboard job bodies on wall-clock cron rules.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/brianhealey/inkdash/internal/events"
)

// Job names.
const (
	JobTick = "tick"
	JobMain = "main"
	JobDeep = "deep"
)

// TickRule fires every minute on second 1.
const TickRule = "1 * * * * *"

// ErrUnknownJob is returned by Run for a name that was never registered.
var ErrUnknownJob = errors.New("jobs: unknown job")

// Runner is the set of job bodies.
type Runner interface {
	Tick(ctx context.Context)
	Main(ctx context.Context)
	Deep(ctx context.Context)
}

// MainRule returns the hourly rule (minute 0, second 5) for every hour
// except deepHour.
func MainRule(deepHour int) string {
	var parts []string
	from := -1
	flush := func(to int) {
		if from < 0 {
			return
		}
		if from == to {
			parts = append(parts, strconv.Itoa(from))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", from, to))
		}
		from = -1
	}
	for h := 0; h < 24; h++ {
		if h == deepHour {
			flush(h - 1)
			continue
		}
		if from < 0 {
			from = h
		}
	}
	flush(23)
	return "5 0 " + strings.Join(parts, ",") + " * * *"
}

// DeepRule returns the daily rule for deepHour.
func DeepRule(deepHour int) string {
	return fmt.Sprintf("5 0 %d * * *", deepHour)
}

// Clock fires the tick, main and deep jobs.
type Clock struct {
	cron *cron.Cron
	bus  *events.Bus
	ctx  context.Context
	jobs map[string]cron.Job
	ids  map[string]cron.EntryID

	manual sync.WaitGroup
}

// New registers the three jobs of r. Each job recovers from panics and is
// skipped while its previous run is still going.
func New(ctx context.Context, loc *time.Location, deepHour int, r Runner, bus *events.Bus) (*Clock, error) {
	if deepHour < 0 || deepHour > 23 {
		return nil, fmt.Errorf("jobs: deep refresh hour %d out of range", deepHour)
	}
	if loc == nil {
		loc = time.Local
	}
	l := logger{}
	c := &Clock{
		cron: cron.New(cron.WithSeconds(), cron.WithLocation(loc), cron.WithLogger(l)),
		bus:  bus,
		ctx:  ctx,
		jobs: make(map[string]cron.Job),
		ids:  make(map[string]cron.EntryID),
	}
	chain := cron.NewChain(cron.Recover(l), cron.SkipIfStillRunning(l))

	for _, j := range []struct {
		name, rule string
		fn         func(context.Context)
	}{
		{JobTick, TickRule, r.Tick},
		{JobMain, MainRule(deepHour), r.Main},
		{JobDeep, DeepRule(deepHour), r.Deep},
	} {
		wrapped := chain.Then(c.job(j.name, j.fn))
		id, err := c.cron.AddJob(j.rule, wrapped)
		if err != nil {
			return nil, fmt.Errorf("jobs: %s rule %q: %w", j.name, j.rule, err)
		}
		c.jobs[j.name] = wrapped
		c.ids[j.name] = id
		slog.Info("jobs: registered", "job", j.name, "rule", j.rule)
	}
	return c, nil
}

func (c *Clock) job(name string, fn func(context.Context)) cron.FuncJob {
	return func() {
		id := uuid.NewString()
		began := time.Now()
		slog.Info("jobs: run started", "job", name, "run", id)
		c.bus.Publish(events.Event{Kind: events.KindJobStarted, Job: name, RunID: id})
		defer func() {
			slog.Info("jobs: run finished", "job", name, "run", id, "took", time.Since(began).Round(time.Millisecond))
			c.bus.Publish(events.Event{Kind: events.KindJobFinished, Job: name, RunID: id})
		}()
		fn(c.ctx)
	}
}

// Start begins firing jobs in the background.
func (c *Clock) Start() { c.cron.Start() }

// Stop halts scheduling and waits for running jobs, or until ctx is done.
func (c *Clock) Stop(ctx context.Context) error {
	stopped := c.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		c.manual.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run fires the named job now, in the background. It shares the overlap
// guard with the scheduled runs.
func (c *Clock) Run(name string) error {
	j, ok := c.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	c.manual.Add(1)
	go func() {
		defer c.manual.Done()
		j.Run()
	}()
	return nil
}

// Next returns the next scheduled time of every job. Times are zero until
// Start is called.
func (c *Clock) Next() map[string]time.Time {
	out := make(map[string]time.Time, len(c.ids))
	for name, id := range c.ids {
		out[name] = c.cron.Entry(id).Next
	}
	return out
}

// logger adapts cron's logger to slog.
type logger struct{}

func (logger) Info(msg string, kv ...interface{}) {
	slog.Debug("jobs: "+msg, kv...)
}

func (logger) Error(err error, msg string, kv ...interface{}) {
	slog.Error("jobs: "+msg, append([]any{"err", err}, kv...)...)
}
