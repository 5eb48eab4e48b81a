// Package epd is the device boundary for e-paper panels. It defines the
// Device interface the display adapter drives, the 1bpp buffer format, a
// mock for tests and development, and the Waveshare 7.5" V2 SPI driver.
package epd

import (
	"context"
	"fmt"
	"image"
)

// Resolution of the Waveshare 7.5" V2 panel.
const (
	Width  = 800
	Height = 480
)

// Device is an e-paper panel. Buffers are 1 bit per pixel, MSB first, rows
// padded to whole bytes; a set bit is white. Methods are not safe for
// concurrent use; the display adapter serialises access.
type Device interface {
	// Init wakes the panel for a full (slow, ghost-clearing) refresh.
	Init(ctx context.Context) error
	// InitFast wakes the panel for a fast refresh.
	InitFast(ctx context.Context) error
	// Clear refreshes the panel to white.
	Clear(ctx context.Context) error
	// Display transmits a frame and refreshes. red is nil on mono panels.
	Display(ctx context.Context, black, red []byte) error
	// Sleep powers the panel down until the next Init.
	Sleep(ctx context.Context) error
	// Bounds is the panel resolution.
	Bounds() image.Rectangle
	// BiColor reports whether the panel has a red plane.
	BiColor() bool
}

// PartialDisplayer is implemented by panels that can refresh a window.
type PartialDisplayer interface {
	// DisplayPartial refreshes r from black, a full-frame buffer. Panels may
	// widen r horizontally to byte boundaries.
	DisplayPartial(ctx context.Context, black []byte, r image.Rectangle) error
}

// HardwareError is returned when talking to the panel fails.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("epd: %s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

func hwErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &HardwareError{Op: op, Err: err}
}

// BufferSize is the length of a 1bpp buffer for r.
func BufferSize(r image.Rectangle) int {
	return (r.Dx() + 7) / 8 * r.Dy()
}

// Pack converts a plane to a 1bpp buffer. Pixels of 128 and above are white.
func Pack(g *image.Gray) []byte {
	b := g.Bounds()
	stride := (b.Dx() + 7) / 8
	buf := make([]byte, stride*b.Dy())
	for i := range buf {
		buf[i] = 0xFF
	}
	for y := 0; y < b.Dy(); y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		for x, v := range row {
			if v < 128 {
				buf[y*stride+x/8] &^= 0x80 >> (x % 8)
			}
		}
	}
	return buf
}

// Unpack is the inverse of Pack.
func Unpack(buf []byte, r image.Rectangle) *image.Gray {
	g := image.NewGray(r)
	stride := (r.Dx() + 7) / 8
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			i := y*stride + x/8
			if i < len(buf) && buf[i]&(0x80>>(x%8)) != 0 {
				g.Pix[y*g.Stride+x] = 255
			}
		}
	}
	return g
}

// AlignRegion widens r horizontally to whole bytes and clips it to bounds.
func AlignRegion(r, bounds image.Rectangle) image.Rectangle {
	r = r.Intersect(bounds)
	if r.Empty() {
		return r
	}
	r.Min.X = bounds.Min.X + (r.Min.X-bounds.Min.X)/8*8
	r.Max.X = bounds.Min.X + (r.Max.X-bounds.Min.X+7)/8*8
	if r.Max.X > bounds.Max.X {
		r.Max.X = bounds.Max.X
	}
	return r
}

// Region copies the bytes of an aligned region out of a full-frame buffer.
func Region(buf []byte, full, r image.Rectangle) []byte {
	stride := (full.Dx() + 7) / 8
	x0 := (r.Min.X - full.Min.X) / 8
	x1 := (r.Max.X - full.Min.X + 7) / 8
	out := make([]byte, 0, (x1-x0)*r.Dy())
	for y := r.Min.Y - full.Min.Y; y < r.Max.Y-full.Min.Y; y++ {
		out = append(out, buf[y*stride+x0:y*stride+x1]...)
	}
	return out
}
