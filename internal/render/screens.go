package render

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/disintegration/imaging"
)

// Splash composes the start-up screen: the Waveshare logo on the left half,
// the circle logo over "DASHBOARD" on the right. It is shown inverted, white
// artwork on black.
func (c *Compositor) Splash() *Frame {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	f := NewFrame(c.opts.Bounds, c.opts.BiColor)
	cv := NewCanvas(f)
	b := c.opts.Bounds
	w, h := b.Dx(), b.Dy()
	half := w / 2

	if logo, err := c.opts.Icons.Get(c.opts.Assets.SplashWaveshare, 360, MethodAlpha); err != nil {
		slog.Error("render: splash logo unavailable", "err", err)
	} else {
		lb := logo.Bounds()
		cv.Stamp(Black, logo, image.Pt(b.Min.X+(half-lb.Dx())/2, b.Min.Y+(h-lb.Dy())/2), Ink)
	}

	const (
		text    = "DASHBOARD"
		padding = 15
	)
	medium := c.opts.Fonts.Medium
	circle, err := c.opts.Icons.Get(c.opts.Assets.SplashCircle, 150, MethodAlpha)
	if err != nil {
		slog.Error("render: splash circle unavailable", "err", err)
	}
	circleH := 0
	if circle != nil {
		circleH = circle.Bounds().Dy()
	}
	total := circleH + padding + InkHeight(medium, text)
	top := b.Min.Y + (h-total)/2
	if circle != nil {
		cv.Stamp(Black, circle, image.Pt(b.Min.X+half+(w-half-circle.Bounds().Dx())/2, top), Ink)
	}
	cv.Text(Black, medium, image.Pt(b.Min.X+half+(w-half)/2, top+circleH+padding), text, MiddleTop, Ink)

	invert(f.Black)
	return f
}

// EasterEgg composes the 21:37 screen: "21", the picture scaled into the
// middle box, "37".
func (c *Compositor) EasterEgg() (*Frame, error) {
	src, err := imaging.Open(c.opts.Assets.EasterEgg)
	if err != nil {
		return nil, fmt.Errorf("render: easter egg image: %w", err)
	}

	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	f := NewFrame(c.opts.Bounds, c.opts.BiColor)
	cv := NewCanvas(f)
	b := c.opts.Bounds
	w, h := b.Dx(), b.Dy()

	const side = 200
	middle := w - 2*side

	sb := src.Bounds()
	ratio := min(float64(middle)/float64(sb.Dx()), float64(h)/float64(sb.Dy()))
	nw, nh := int(float64(sb.Dx())*ratio), int(float64(sb.Dy())*ratio)
	if nw > 0 && nh > 0 {
		scaled := dither(imaging.Resize(src, nw, nh, imaging.Lanczos))
		at := image.Pt(b.Min.X+side+(middle-nw)/2, b.Min.Y+(h-nh)/2)
		draw.Draw(f.Black, image.Rectangle{Min: at, Max: at.Add(scaled.Bounds().Size())}, scaled, image.Point{}, draw.Src)
	}

	face := c.opts.Fonts.EasterEgg
	cy := b.Min.Y + h/2
	cv.Text(Black, face, image.Pt(b.Min.X+side/2, cy), "21", MiddleMiddle, Ink)
	cv.Text(Black, face, image.Pt(b.Min.X+side+middle+side/2, cy), "37", MiddleMiddle, Ink)
	return f, nil
}

func invert(g *image.Gray) {
	for i, v := range g.Pix {
		g.Pix[i] = 255 - v
	}
}
