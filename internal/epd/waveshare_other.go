//go:build !linux

package epd

import (
	"context"
	"errors"
	"image"
)

// Pins are the BCM GPIO numbers of the HAT.
type Pins struct {
	RST, DC, CS, BUSY, PWR int
}

// DefaultPins is the Waveshare e-Paper HAT wiring.
var DefaultPins = Pins{RST: 17, DC: 25, CS: 8, BUSY: 24, PWR: 18}

// ErrUnsupported is returned when the SPI panel is opened off Linux.
var ErrUnsupported = errors.New("epd: Waveshare driver requires linux")

// Waveshare7in5V2 is unavailable on this platform.
type Waveshare7in5V2 struct{}

// OpenWaveshare7in5V2 always fails off Linux; use the mock device.
func OpenWaveshare7in5V2(Pins) (*Waveshare7in5V2, error) { return nil, ErrUnsupported }

func (*Waveshare7in5V2) Init(context.Context) error                    { return ErrUnsupported }
func (*Waveshare7in5V2) InitFast(context.Context) error                { return ErrUnsupported }
func (*Waveshare7in5V2) Clear(context.Context) error                   { return ErrUnsupported }
func (*Waveshare7in5V2) Display(context.Context, []byte, []byte) error { return ErrUnsupported }
func (*Waveshare7in5V2) Sleep(context.Context) error                   { return ErrUnsupported }
func (*Waveshare7in5V2) Bounds() image.Rectangle                       { return image.Rect(0, 0, Width, Height) }
func (*Waveshare7in5V2) BiColor() bool                                 { return false }
func (*Waveshare7in5V2) Close() error                                  { return nil }
