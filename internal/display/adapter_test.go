package display

import (
	"bytes"
	"context"
	"errors"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/brianhealey/inkdash/internal/epd"
	"github.com/brianhealey/inkdash/internal/render"
)

func newTestAdapter(t *testing.T, dev epd.Device, opts ...Option) (*Adapter, string) {
	t.Helper()
	dir := t.TempDir()
	return New(dev, &sync.Mutex{}, dir, opts...), dir
}

// testFrame has a black block at (100,100)-(110,110).
func testFrame(r image.Rectangle) *render.Frame {
	f := render.NewFrame(r, false)
	render.NewCanvas(f).Fill(render.Black, image.Rect(100, 100, 110, 110), render.Ink)
	return f
}

func callsEqual(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestAdapter_FullUpdateSequence(t *testing.T) {
	m := epd.NewMock()
	a, dir := newTestAdapter(t, m)

	if err := a.FullUpdate(context.Background(), testFrame(m.Bounds()), FullOptions{Clear: true}); err != nil {
		t.Fatalf("FullUpdate() error = %v", err)
	}
	callsEqual(t, m.Calls(), epd.OpInit, epd.OpClear, epd.OpDisplay, epd.OpSleep)
	if a.State() != Idle {
		t.Errorf("State() = %v, want idle", a.State())
	}
	if _, err := os.Stat(filepath.Join(dir, BlackFile)); err != nil {
		t.Errorf("frame cache missing: %v", err)
	}
	if a.Fingerprint() == 0 {
		t.Error("Fingerprint() not set after transmit")
	}
	if st := a.Status(); st.LastError != "" || st.Fingerprint == "" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestAdapter_FullUpdateWithoutClear(t *testing.T) {
	m := epd.NewMock()
	a, _ := newTestAdapter(t, m)
	_ = a.FullUpdate(context.Background(), testFrame(m.Bounds()), FullOptions{})
	callsEqual(t, m.Calls(), epd.OpInit, epd.OpDisplay, epd.OpSleep)
}

func TestAdapter_PartialUpdateChangesOnlyRegion(t *testing.T) {
	m := epd.NewMock()
	a, dir := newTestAdapter(t, m)
	ctx := context.Background()
	base := testFrame(m.Bounds())
	if err := a.FullUpdate(ctx, base, FullOptions{}); err != nil {
		t.Fatal(err)
	}
	m.Reset()

	region := image.Rect(0, 0, 400, 200)
	err := a.PartialUpdate(ctx, region, func(c *render.Canvas) error {
		c.Fill(render.Black, image.Rect(10, 10, 50, 50), render.Ink)
		return nil
	}, false)
	if err != nil {
		t.Fatalf("PartialUpdate() error = %v", err)
	}
	callsEqual(t, m.Calls(), epd.OpInitFast, epd.OpDisplayPartial, epd.OpSleep)
	if _, _, got := m.Last(); got != region {
		t.Errorf("partial region = %v, want %v", got, region)
	}

	// Reload from disk with a fresh adapter.
	fresh := New(m, &sync.Mutex{}, dir)
	cached, err := fresh.CachedFrame()
	if err != nil {
		t.Fatalf("CachedFrame() error = %v", err)
	}
	b := cached.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := image.Pt(x, y)
			got, old := cached.Black.GrayAt(x, y).Y, base.Black.GrayAt(x, y).Y
			switch {
			case p.In(image.Rect(10, 10, 50, 50)):
				if got != render.Ink {
					t.Fatalf("pixel %v = %d, want ink", p, got)
				}
			case p.In(region):
				if got != render.Paper {
					t.Fatalf("pixel %v = %d, want paper", p, got)
				}
			case got != old:
				t.Fatalf("pixel %v outside region changed: %d -> %d", p, old, got)
			}
		}
	}
}

func TestAdapter_PartialSkippedWithoutCache(t *testing.T) {
	m := epd.NewMock()
	a, _ := newTestAdapter(t, m)
	called := false
	err := a.PartialUpdate(context.Background(), image.Rect(0, 0, 10, 10), func(*render.Canvas) error {
		called = true
		return nil
	}, false)
	if !errors.Is(err, ErrNoCache) {
		t.Fatalf("PartialUpdate() error = %v, want ErrNoCache", err)
	}
	if called || len(m.Calls()) != 0 {
		t.Errorf("partial update without cache touched redraw=%v calls=%v", called, m.Calls())
	}
}

func TestAdapter_PartialUnchangedSkipsTransmit(t *testing.T) {
	m := epd.NewMock()
	a, _ := newTestAdapter(t, m)
	ctx := context.Background()
	_ = a.FullUpdate(ctx, testFrame(m.Bounds()), FullOptions{})
	m.Reset()

	region := image.Rect(96, 96, 120, 120)
	err := a.PartialUpdate(ctx, region, func(c *render.Canvas) error {
		c.Fill(render.Black, image.Rect(100, 100, 110, 110), render.Ink)
		return nil
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Calls()) != 0 {
		t.Errorf("unchanged partial update transmitted: %v", m.Calls())
	}
}

func TestAdapter_PartialFallsBackToFullDisplay(t *testing.T) {
	m := epd.NewMock()
	a, _ := newTestAdapter(t, epd.FullOnlyMock{Mock: m})
	ctx := context.Background()
	_ = a.FullUpdate(ctx, testFrame(m.Bounds()), FullOptions{})
	m.Reset()

	_ = a.PartialUpdate(ctx, image.Rect(0, 0, 64, 64), func(c *render.Canvas) error {
		c.Fill(render.Black, image.Rect(0, 0, 8, 8), render.Ink)
		return nil
	}, false)
	callsEqual(t, m.Calls(), epd.OpInitFast, epd.OpDisplay, epd.OpSleep)
}

func TestAdapter_FlipOnlyAffectsTransmission(t *testing.T) {
	m := epd.NewMock()
	a, _ := newTestAdapter(t, m)
	f := testFrame(m.Bounds())
	if err := a.FullUpdate(context.Background(), f, FullOptions{Flip: true}); err != nil {
		t.Fatal(err)
	}

	sent, _, _ := m.Last()
	rotated := render.NewFrame(m.Bounds(), false)
	render.NewCanvas(rotated).Fill(render.Black, image.Rect(690, 370, 700, 380), render.Ink)
	if !bytes.Equal(sent, epd.Pack(rotated.Black)) {
		t.Error("transmitted buffer is not the rotated frame")
	}

	cached, err := a.CachedFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(cached.Black.Pix, f.Black.Pix) {
		t.Error("cached frame was rotated")
	}
}

func TestAdapter_PixelShiftWithinBounds(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		m := epd.NewMock()
		a, _ := newTestAdapter(t, m, WithRand(rand.New(rand.NewPCG(seed, seed))))
		f := testFrame(m.Bounds())
		_ = a.FullUpdate(context.Background(), f, FullOptions{Shift: true})

		cached, err := a.CachedFrame()
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for dx := -MaxShift; dx <= MaxShift && !found; dx++ {
			for dy := -MaxShift; dy <= MaxShift && !found; dy++ {
				found = bytes.Equal(Shift(f, dx, dy).Black.Pix, cached.Black.Pix)
			}
		}
		if !found {
			t.Fatalf("seed %d: cached frame is not a shift within ±%d", seed, MaxShift)
		}
	}
}

func TestShift_PadsWithPaper(t *testing.T) {
	f := render.NewFrame(image.Rect(0, 0, 4, 4), true)
	render.NewCanvas(f).Fill(render.Black, f.Bounds(), render.Ink)

	s := Shift(f, 2, -1)
	if s.Black.GrayAt(0, 0).Y != render.Paper || s.Black.GrayAt(1, 1).Y != render.Paper {
		t.Error("uncovered columns should be paper")
	}
	if s.Black.GrayAt(3, 3).Y != render.Paper {
		t.Error("uncovered bottom row should be paper")
	}
	if s.Black.GrayAt(2, 0).Y != render.Ink || s.Black.GrayAt(3, 2).Y != render.Ink {
		t.Error("shifted content missing")
	}
	if s.Red == nil {
		t.Error("red plane dropped")
	}
}

func TestAdapter_HardwareErrorIsSwallowed(t *testing.T) {
	m := epd.NewMock()
	m.SetFail(epd.OpDisplay, true)
	a, _ := newTestAdapter(t, m)

	err := a.FullUpdate(context.Background(), testFrame(m.Bounds()), FullOptions{})
	var hw *epd.HardwareError
	if !errors.As(err, &hw) {
		t.Fatalf("FullUpdate() error = %v, want *HardwareError", err)
	}
	callsEqual(t, m.Calls(), epd.OpInit, epd.OpDisplay, epd.OpSleep)
	if a.State() != Idle {
		t.Errorf("State() = %v after failure, want idle", a.State())
	}
	if a.Status().LastError == "" {
		t.Error("Status().LastError not recorded")
	}
}

func TestAdapter_ShowDoesNotCache(t *testing.T) {
	m := epd.NewMock()
	a, dir := newTestAdapter(t, m)
	if err := a.Show(context.Background(), testFrame(m.Bounds()), false); err != nil {
		t.Fatal(err)
	}
	callsEqual(t, m.Calls(), epd.OpInit, epd.OpClear, epd.OpDisplay, epd.OpSleep)
	if _, err := os.Stat(filepath.Join(dir, BlackFile)); !os.IsNotExist(err) {
		t.Errorf("Show() wrote the frame cache: %v", err)
	}
}

func TestAdapter_WaitsForHardwareMutex(t *testing.T) {
	m := epd.NewMock()
	hw := &sync.Mutex{}
	a := New(m, hw, t.TempDir())

	hw.Lock()
	done := make(chan struct{})
	go func() {
		_ = a.Clear(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	if n := len(m.Calls()); n != 0 {
		t.Fatalf("device used while mutex held: %v", m.Calls())
	}
	hw.Unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Clear() did not finish after unlock")
	}
	callsEqual(t, m.Calls(), epd.OpInit, epd.OpClear, epd.OpSleep)
}

func TestAdapter_FullUpdateWaitsForPartialCacheWrite(t *testing.T) {
	m := epd.NewMock()
	a, _ := newTestAdapter(t, m)
	ctx := context.Background()
	if err := a.FullUpdate(ctx, testFrame(m.Bounds()), FullOptions{}); err != nil {
		t.Fatal(err)
	}
	m.Reset()

	next := render.NewFrame(m.Bounds(), false)
	render.NewCanvas(next).Fill(render.Black, image.Rect(500, 300, 520, 320), render.Ink)

	var wg sync.WaitGroup
	err := a.PartialUpdate(ctx, image.Rect(0, 0, 400, 200), func(cv *render.Canvas) error {
		// A full update requested mid-redraw must land after this partial.
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.FullUpdate(ctx, next, FullOptions{})
		}()
		time.Sleep(30 * time.Millisecond)
		cv.Fill(render.Black, image.Rect(10, 10, 20, 20), render.Ink)
		return nil
	}, false)
	if err != nil {
		t.Fatalf("PartialUpdate() error = %v", err)
	}
	wg.Wait()

	callsEqual(t, m.Calls(),
		epd.OpInitFast, epd.OpDisplayPartial, epd.OpSleep,
		epd.OpInit, epd.OpDisplay, epd.OpSleep)
	got, err := a.CachedFrame()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Black.Pix, next.Black.Pix) {
		t.Error("cache does not hold the frame that was transmitted last")
	}
}

func TestAdapter_CreatesMissingCacheDir(t *testing.T) {
	m := epd.NewMock()
	dir := filepath.Join(t.TempDir(), "not", "yet")
	a := New(m, &sync.Mutex{}, dir)

	if err := a.FullUpdate(context.Background(), testFrame(m.Bounds()), FullOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, BlackFile)); err != nil {
		t.Errorf("frame cache missing: %v", err)
	}
}

func TestAdapter_RejectsWrongSizeCache(t *testing.T) {
	m := epd.NewMock()
	a, dir := newTestAdapter(t, m)
	small := image.NewGray(image.Rect(0, 0, 10, 10))
	if err := imaging.Save(small, filepath.Join(dir, BlackFile)); err != nil {
		t.Fatal(err)
	}
	if _, err := a.CachedFrame(); !errors.Is(err, ErrNoCache) {
		t.Errorf("CachedFrame() error = %v, want ErrNoCache", err)
	}
}

func TestRotateRect(t *testing.T) {
	got := rotateRect(image.Rect(0, 0, 400, 200), image.Rect(0, 0, 800, 480))
	if want := image.Rect(400, 280, 800, 480); got != want {
		t.Errorf("rotateRect() = %v, want %v", got, want)
	}
}
