// Package display drives the e-paper panel: it serialises hardware access,
// keeps the last frame on disk for partial updates, and applies the
// display-only transforms (flip and pixel shift).
package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/zeebo/xxh3"

	"github.com/brianhealey/inkdash/internal/epd"
	"github.com/brianhealey/inkdash/internal/render"
)

// MaxShift bounds the burn-in pixel shift on each axis.
const MaxShift = 2

// FullOptions controls a full update.
type FullOptions struct {
	// Clear runs a ghost-clearing white refresh first.
	Clear bool
	// Flip rotates the transmitted image by 180 degrees.
	Flip bool
	// Shift moves the frame by a random offset within MaxShift.
	Shift bool
}

// Status is a snapshot of the adapter for diagnostics.
type Status struct {
	State        string    `json:"state"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	LastTransmit time.Time `json:"last_transmit,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRand makes pixel shifts reproducible.
func WithRand(r *rand.Rand) Option {
	return func(a *Adapter) { a.intn = r.IntN }
}

// Adapter owns the panel. Every operation holds the hardware mutex from
// init to sleep.
type Adapter struct {
	dev      epd.Device
	hw       *sync.Mutex
	cacheDir string
	intn     func(int) int

	state       atomic.Int32
	fingerprint atomic.Uint64

	cacheMu sync.Mutex
	cached  *render.Frame

	statusMu     sync.Mutex
	lastTransmit time.Time
	lastErr      error
	flipLogged   bool
}

// New returns an adapter for dev. hw is shared with anything else that
// touches the panel; cacheDir holds the frame cache.
func New(dev epd.Device, hw *sync.Mutex, cacheDir string, opts ...Option) *Adapter {
	a := &Adapter{dev: dev, hw: hw, cacheDir: cacheDir, intn: rand.IntN}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Bounds is the panel size.
func (a *Adapter) Bounds() image.Rectangle { return a.dev.Bounds() }

// BiColor reports whether the panel has a red plane.
func (a *Adapter) BiColor() bool { return a.dev.BiColor() }

// State returns the current operation phase.
func (a *Adapter) State() State { return State(a.state.Load()) }

func (a *Adapter) setState(s State) {
	a.state.Store(int32(s))
	slog.Debug("display: state", "state", s)
}

// Fingerprint is the xxh3 hash of the last transmitted buffers.
func (a *Adapter) Fingerprint() uint64 { return a.fingerprint.Load() }

// Status reports the adapter state for the status endpoint.
func (a *Adapter) Status() Status {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	st := Status{State: a.State().String(), LastTransmit: a.lastTransmit}
	if fp := a.Fingerprint(); fp != 0 {
		st.Fingerprint = fmt.Sprintf("%016x", fp)
	}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	return st
}

// FullUpdate caches frame (shifted if requested) and transmits it with a
// full refresh. Hardware errors are logged; the returned error is for
// diagnostics only.
func (a *Adapter) FullUpdate(ctx context.Context, frame *render.Frame, o FullOptions) error {
	if o.Shift {
		dx, dy := a.intn(2*MaxShift+1)-MaxShift, a.intn(2*MaxShift+1)-MaxShift
		slog.Info("display: applying pixel shift", "dx", dx, "dy", dy)
		frame = Shift(frame, dx, dy)
	}
	black, red := a.buffers(frame, o.Flip)

	return a.withDevice(ctx, "full update", func(ctx context.Context) error {
		a.storeCache(frame)
		a.setState(Initializing)
		if err := a.dev.Init(ctx); err != nil {
			return err
		}
		if o.Clear {
			a.setState(Clearing)
			if err := a.dev.Clear(ctx); err != nil {
				return err
			}
		}
		a.setState(Transmitting)
		if err := a.dev.Display(ctx, black, red); err != nil {
			return err
		}
		a.transmitted(black, red)
		return nil
	})
}

// PartialUpdate repaints region of the cached frame with redraw and sends it
// with a fast refresh. It is skipped when nothing has been cached yet, and
// when the region's pixels did not change. The cache read, redraw and
// store all happen under the hardware mutex.
func (a *Adapter) PartialUpdate(ctx context.Context, region image.Rectangle, redraw func(*render.Canvas) error, flip bool) error {
	a.hw.Lock()
	defer a.hw.Unlock()

	base, err := a.CachedFrame()
	if err != nil {
		slog.Error("display: partial update skipped until the next full update", "err", err)
		return err
	}
	region = region.Intersect(base.Bounds())
	if region.Empty() {
		return errors.New("display: partial region outside the panel")
	}

	next := base.Clone()
	cv := render.NewCanvas(next)
	cv.Erase(region)
	if err := redraw(cv); err != nil {
		slog.Error("display: partial redraw failed", "err", err)
		return err
	}
	if samePixels(base, next, region) {
		slog.Debug("display: partial region unchanged, skipping transmit", "region", region)
		return nil
	}
	a.storeCache(next)

	black, red := a.buffers(next, flip)
	sendRegion := region
	if flip {
		sendRegion = rotateRect(region, next.Bounds())
	}
	return a.runDevice(ctx, "partial update", func(ctx context.Context) error {
		a.setState(Initializing)
		if err := a.dev.InitFast(ctx); err != nil {
			return err
		}
		a.setState(Transmitting)
		if pd, ok := a.dev.(epd.PartialDisplayer); ok {
			if err := pd.DisplayPartial(ctx, black, sendRegion); err != nil {
				return err
			}
		} else if err := a.dev.Display(ctx, black, red); err != nil {
			return err
		}
		a.transmitted(black, red)
		return nil
	})
}

// Clear refreshes the panel to white. The frame cache is kept.
func (a *Adapter) Clear(ctx context.Context) error {
	return a.withDevice(ctx, "clear", func(ctx context.Context) error {
		a.setState(Initializing)
		if err := a.dev.Init(ctx); err != nil {
			return err
		}
		a.setState(Clearing)
		return a.dev.Clear(ctx)
	})
}

// Show clears the panel and displays frame without caching it. Used for the
// splash and easter-egg screens.
func (a *Adapter) Show(ctx context.Context, frame *render.Frame, flip bool) error {
	black, red := a.buffers(frame, flip)
	return a.withDevice(ctx, "show", func(ctx context.Context) error {
		a.setState(Initializing)
		if err := a.dev.Init(ctx); err != nil {
			return err
		}
		a.setState(Clearing)
		if err := a.dev.Clear(ctx); err != nil {
			return err
		}
		a.setState(Transmitting)
		return a.dev.Display(ctx, black, red)
	})
}

// withDevice runs fn under the hardware mutex and always finishes with
// Sleep. Errors are logged and returned as *epd.HardwareError.
func (a *Adapter) withDevice(ctx context.Context, op string, fn func(context.Context) error) error {
	a.hw.Lock()
	defer a.hw.Unlock()
	return a.runDevice(ctx, op, fn)
}

// runDevice is withDevice for a caller that already holds the mutex.
func (a *Adapter) runDevice(ctx context.Context, op string, fn func(context.Context) error) error {
	defer a.setState(Idle)

	start := time.Now()
	slog.Info("display: starting", "op", op)
	err := fn(ctx)

	a.setState(Sleeping)
	if serr := a.dev.Sleep(ctx); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		var hw *epd.HardwareError
		if !errors.As(err, &hw) {
			err = &epd.HardwareError{Op: op, Err: err}
		}
		slog.Error("display: operation failed", "op", op, "err", err)
	} else {
		slog.Info("display: done", "op", op, "took", time.Since(start).Round(time.Millisecond))
	}
	a.statusMu.Lock()
	a.lastErr = err
	a.statusMu.Unlock()
	return err
}

func (a *Adapter) storeCache(f *render.Frame) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.cached = f.Clone()
	if err := a.saveCache(f); err != nil {
		slog.Error("display: frame cache write failed", "err", err)
	}
}

// buffers packs the planes for transmission, rotating a copy when flip is
// set. The cached frame is never rotated.
func (a *Adapter) buffers(f *render.Frame, flip bool) (black, red []byte) {
	if flip {
		a.statusMu.Lock()
		if !a.flipLogged {
			slog.Info("display: rotating output by 180 degrees")
			a.flipLogged = true
		}
		a.statusMu.Unlock()
	}
	plane := func(g *image.Gray) []byte {
		if flip {
			g = toGray(imaging.Rotate180(g), g.Bounds())
		}
		return epd.Pack(g)
	}
	black = plane(f.Black)
	if f.Red != nil && a.dev.BiColor() {
		red = plane(f.Red)
	}
	return black, red
}

func (a *Adapter) transmitted(black, red []byte) {
	h := xxh3.New()
	h.Write(black)
	h.Write(red)
	fp := h.Sum64()
	a.fingerprint.Store(fp)

	a.statusMu.Lock()
	a.lastTransmit = time.Now()
	a.statusMu.Unlock()
	slog.Debug("display: transmitted", "fingerprint", fmt.Sprintf("%016x", fp))
}

// Shift returns a copy of f moved by (dx, dy), padded with paper.
func Shift(f *render.Frame, dx, dy int) *render.Frame {
	b := f.Bounds()
	out := render.NewFrame(b, f.Red != nil)
	d := image.Pt(dx, dy)
	draw.Draw(out.Black, b.Add(d), f.Black, b.Min, draw.Src)
	if f.Red != nil {
		draw.Draw(out.Red, b.Add(d), f.Red, b.Min, draw.Src)
	}
	return out
}

func samePixels(a, b *render.Frame, r image.Rectangle) bool {
	eq := func(x, y *image.Gray) bool {
		if x == nil || y == nil {
			return x == y
		}
		for row := r.Min.Y; row < r.Max.Y; row++ {
			i, j := x.PixOffset(r.Min.X, row), y.PixOffset(r.Min.X, row)
			if !bytes.Equal(x.Pix[i:i+r.Dx()], y.Pix[j:j+r.Dx()]) {
				return false
			}
		}
		return true
	}
	return eq(a.Black, b.Black) && eq(a.Red, b.Red)
}

// rotateRect maps r to its position after a 180 degree rotation of bounds.
func rotateRect(r, bounds image.Rectangle) image.Rectangle {
	return image.Rect(
		bounds.Min.X+bounds.Max.X-r.Max.X, bounds.Min.Y+bounds.Max.Y-r.Max.Y,
		bounds.Min.X+bounds.Max.X-r.Min.X, bounds.Min.Y+bounds.Max.Y-r.Min.Y,
	)
}
