//go:build linux

package epd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Pins are the BCM GPIO numbers of the HAT. CS is driven by the kernel
// through the spidev chip-select line and is listed for reference.
type Pins struct {
	RST, DC, CS, BUSY, PWR int
}

// DefaultPins is the Waveshare e-Paper HAT wiring.
var DefaultPins = Pins{RST: 17, DC: 25, CS: 8, BUSY: 24, PWR: 18}

const (
	spiDevice = "/dev/spidev0.0"
	// spidev rejects transfers larger than its default bufsiz.
	chunkSize   = 4096
	busyTimeout = 40 * time.Second
)

// Waveshare7in5V2 drives the 800x480 black/white panel.
type Waveshare7in5V2 struct {
	port spi.PortCloser
	conn spi.Conn
	rst  gpio.PinOut
	dc   gpio.PinOut
	pwr  gpio.PinOut
	busy gpio.PinIn
}

// OpenWaveshare7in5V2 initialises periph.io and claims the SPI bus and pins.
func OpenWaveshare7in5V2(pins Pins) (*Waveshare7in5V2, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph.io init: %w", err)
	}
	port, err := spireg.Open(spiDevice)
	if err != nil {
		return nil, fmt.Errorf("epd: open SPI: %w", err)
	}
	conn, err := port.Connect(4*physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("epd: connect SPI: %w", err)
	}

	pin := func(n int) (gpio.PinIO, error) {
		p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
		if p == nil {
			return nil, fmt.Errorf("epd: GPIO%d not found", n)
		}
		return p, nil
	}
	w := &Waveshare7in5V2{port: port, conn: conn}
	var errs []error
	var p gpio.PinIO
	if p, err = pin(pins.RST); err == nil {
		w.rst = p
	}
	errs = append(errs, err)
	if p, err = pin(pins.DC); err == nil {
		w.dc = p
	}
	errs = append(errs, err)
	if p, err = pin(pins.PWR); err == nil {
		w.pwr = p
	}
	errs = append(errs, err)
	if p, err = pin(pins.BUSY); err == nil {
		w.busy = p
	}
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		port.Close()
		return nil, err
	}
	if err := w.busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		port.Close()
		return nil, fmt.Errorf("epd: busy pin: %w", err)
	}

	slog.Info("epd: Waveshare 7.5\" V2 opened", "spi", spiDevice, "width", Width, "height", Height)
	return w, nil
}

func (w *Waveshare7in5V2) Bounds() image.Rectangle { return image.Rect(0, 0, Width, Height) }
func (w *Waveshare7in5V2) BiColor() bool           { return false }

// Close powers the HAT down and releases the SPI port.
func (w *Waveshare7in5V2) Close() error {
	_ = w.pwr.Out(gpio.Low)
	_ = w.rst.Out(gpio.Low)
	_ = w.dc.Out(gpio.Low)
	return w.port.Close()
}

func (w *Waveshare7in5V2) Init(ctx context.Context) error {
	return hwErr(OpInit, w.run(ctx,
		w.reset,
		w.cmd(0x06, 0x17, 0x17, 0x28, 0x17), // booster soft start
		w.cmd(0x01, 0x07, 0x07, 0x28, 0x17), // power setting
		w.cmd(0x04),                         // power on
		w.pause(100*time.Millisecond),
		w.waitIdle,
		w.cmd(0x00, 0x1F),                   // panel setting: KW mode
		w.cmd(0x61, 0x03, 0x20, 0x01, 0xE0), // resolution 800x480
		w.cmd(0x15, 0x00),
		w.cmd(0x50, 0x10, 0x07), // VCOM and data interval
		w.cmd(0x60, 0x22),       // TCON
	))
}

func (w *Waveshare7in5V2) InitFast(ctx context.Context) error {
	return hwErr(OpInitFast, w.run(ctx,
		w.reset,
		w.cmd(0x00, 0x1F),
		w.cmd(0x50, 0x10, 0x07),
		w.cmd(0x04),
		w.pause(100*time.Millisecond),
		w.waitIdle,
		w.cmd(0x06, 0x27, 0x27, 0x18, 0x17),
		w.cmd(0xE0, 0x02),
		w.cmd(0xE5, 0x5A),
	))
}

func (w *Waveshare7in5V2) Clear(ctx context.Context) error {
	n := BufferSize(w.Bounds())
	white := make([]byte, n)
	for i := range white {
		white[i] = 0xFF
	}
	return hwErr(OpClear, w.run(ctx,
		w.cmd(0x10),
		w.data(white),
		w.cmd(0x13),
		w.data(make([]byte, n)),
		w.refresh,
	))
}

// Display sends the frame as old data (0x10) and its inverse as new data
// (0x13). red is ignored.
func (w *Waveshare7in5V2) Display(ctx context.Context, black, red []byte) error {
	if len(black) != BufferSize(w.Bounds()) {
		return hwErr(OpDisplay, fmt.Errorf("buffer is %d bytes, want %d", len(black), BufferSize(w.Bounds())))
	}
	return hwErr(OpDisplay, w.run(ctx,
		w.cmd(0x10),
		w.data(black),
		w.cmd(0x13),
		w.data(inverted(black)),
		w.refresh,
	))
}

// DisplayPartial refreshes the byte-aligned window around r.
func (w *Waveshare7in5V2) DisplayPartial(ctx context.Context, black []byte, r image.Rectangle) error {
	full := w.Bounds()
	r = AlignRegion(r, full)
	if r.Empty() {
		return nil
	}
	xe, ye := r.Max.X-1, r.Max.Y-1
	return hwErr(OpDisplayPartial, w.run(ctx,
		w.cmd(0x50, 0xA9, 0x07),
		w.cmd(0x91), // enter partial mode
		w.cmd(0x90,
			byte(r.Min.X>>8), byte(r.Min.X), byte(xe>>8), byte(xe),
			byte(r.Min.Y>>8), byte(r.Min.Y), byte(ye>>8), byte(ye),
			0x01),
		w.cmd(0x13),
		w.data(inverted(Region(black, full, r))),
		w.refresh,
	))
}

func (w *Waveshare7in5V2) Sleep(ctx context.Context) error {
	return hwErr(OpSleep, w.run(ctx,
		w.cmd(0x50, 0xF7),
		w.cmd(0x02), // power off
		w.waitIdle,
		w.cmd(0x07, 0xA5), // deep sleep
		w.pause(2*time.Second),
	))
}

type step func(ctx context.Context) error

func (w *Waveshare7in5V2) run(ctx context.Context, steps ...step) error {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *Waveshare7in5V2) reset(ctx context.Context) error {
	if err := w.pwr.Out(gpio.High); err != nil {
		return err
	}
	for _, s := range []struct {
		level gpio.Level
		wait  time.Duration
	}{{gpio.High, 20 * time.Millisecond}, {gpio.Low, 2 * time.Millisecond}, {gpio.High, 20 * time.Millisecond}} {
		if err := w.rst.Out(s.level); err != nil {
			return err
		}
		time.Sleep(s.wait)
	}
	return nil
}

// cmd writes a command byte with DC low, then any parameters with DC high.
func (w *Waveshare7in5V2) cmd(c byte, params ...byte) step {
	return func(ctx context.Context) error {
		if err := w.dc.Out(gpio.Low); err != nil {
			return err
		}
		if err := w.conn.Tx([]byte{c}, nil); err != nil {
			return err
		}
		if len(params) == 0 {
			return nil
		}
		return w.data(params)(ctx)
	}
}

func (w *Waveshare7in5V2) data(b []byte) step {
	return func(ctx context.Context) error {
		if err := w.dc.Out(gpio.High); err != nil {
			return err
		}
		for len(b) > 0 {
			n := min(len(b), chunkSize)
			if err := w.conn.Tx(b[:n], nil); err != nil {
				return err
			}
			b = b[n:]
		}
		return nil
	}
}

func (w *Waveshare7in5V2) pause(d time.Duration) step {
	return func(ctx context.Context) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}

func (w *Waveshare7in5V2) refresh(ctx context.Context) error {
	return w.run(ctx, w.cmd(0x12), w.pause(100*time.Millisecond), w.waitIdle)
}

// waitIdle polls the status command until BUSY goes high (idle).
func (w *Waveshare7in5V2) waitIdle(ctx context.Context) error {
	deadline := time.Now().Add(busyTimeout)
	for {
		if err := w.cmd(0x71)(ctx); err != nil {
			return err
		}
		if w.busy.Read() == gpio.High {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("panel busy for more than %s", busyTimeout)
		}
		if err := w.pause(20 * time.Millisecond)(ctx); err != nil {
			return err
		}
	}
	return w.pause(20 * time.Millisecond)(ctx)
}

func inverted(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[i] = ^v
	}
	return out
}
