// Package render composes dashboard frames from snapshot documents.
//
// A Frame holds one 8-bit plane per ink colour. 0 is ink and 255 is paper;
// anything in between is thresholded when the frame is packed for the
// panel. Mono panels have no red plane and red drawing falls through to
// black.
package render

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// Pixel values.
const (
	Ink   uint8 = 0
	Paper uint8 = 255
)

// Frame is a composed image, one plane per colour.
type Frame struct {
	Black *image.Gray
	Red   *image.Gray
}

// NewFrame returns a blank (all paper) frame.
func NewFrame(r image.Rectangle, biColor bool) *Frame {
	f := &Frame{Black: blankPlane(r)}
	if biColor {
		f.Red = blankPlane(r)
	}
	return f
}

func blankPlane(r image.Rectangle) *image.Gray {
	g := image.NewGray(r)
	for i := range g.Pix {
		g.Pix[i] = Paper
	}
	return g
}

// Bounds returns the frame rectangle.
func (f *Frame) Bounds() image.Rectangle { return f.Black.Bounds() }

// BiColor reports whether the frame has a red plane.
func (f *Frame) BiColor() bool { return f.Red != nil }

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	out := &Frame{Black: clonePlane(f.Black)}
	if f.Red != nil {
		out.Red = clonePlane(f.Red)
	}
	return out
}

func clonePlane(g *image.Gray) *image.Gray {
	c := image.NewGray(g.Rect)
	copy(c.Pix, g.Pix)
	return c
}

// Plane selects the ink colour a drawing operation targets.
type Plane int

const (
	Black Plane = iota
	Red
)

// Canvas draws onto a Frame.
type Canvas struct {
	f *Frame
}

// NewCanvas returns a canvas drawing onto f.
func NewCanvas(f *Frame) *Canvas { return &Canvas{f: f} }

// Frame returns the frame being drawn.
func (c *Canvas) Frame() *Frame { return c.f }

// Bounds returns the drawable area.
func (c *Canvas) Bounds() image.Rectangle { return c.f.Bounds() }

func (c *Canvas) plane(p Plane) *image.Gray {
	if p == Red && c.f.Red != nil {
		return c.f.Red
	}
	return c.f.Black
}

// Fill paints r on plane p with v.
func (c *Canvas) Fill(p Plane, r image.Rectangle, v uint8) {
	draw.Draw(c.plane(p), r, image.NewUniform(color.Gray{Y: v}), image.Point{}, draw.Src)
}

// Erase paints r with paper on every plane.
func (c *Canvas) Erase(r image.Rectangle) {
	c.Fill(Black, r, Paper)
	if c.f.Red != nil {
		c.Fill(Red, r, Paper)
	}
}

// HLine draws a horizontal line of the given thickness from x0 to x1
// inclusive.
func (c *Canvas) HLine(p Plane, x0, x1, y, width int, v uint8) {
	c.Fill(p, image.Rect(x0, y, x1+1, y+width), v)
}

// Outline draws a one-pixel rectangle border. r.Max is exclusive.
func (c *Canvas) Outline(p Plane, r image.Rectangle, v uint8) {
	c.Fill(p, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), v)
	c.Fill(p, image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), v)
	c.Fill(p, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), v)
	c.Fill(p, image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), v)
}

// Polygon fills the closed polygon pts.
func (c *Canvas) Polygon(p Plane, pts []image.Point, v uint8) {
	if len(pts) < 3 {
		return
	}
	var bb image.Rectangle
	for _, pt := range pts {
		bb = bb.Union(image.Rectangle{Min: pt, Max: pt.Add(image.Pt(1, 1))})
	}
	bb = bb.Intersect(c.Bounds())
	if bb.Empty() {
		return
	}

	z := vector.NewRasterizer(bb.Dx(), bb.Dy())
	z.MoveTo(float32(pts[0].X-bb.Min.X), float32(pts[0].Y-bb.Min.Y))
	for _, pt := range pts[1:] {
		z.LineTo(float32(pt.X-bb.Min.X), float32(pt.Y-bb.Min.Y))
	}
	z.ClosePath()
	z.Draw(c.plane(p), bb, image.NewUniform(color.Gray{Y: v}), image.Point{})
}

// Stamp paints v on plane p wherever mask is dark (below 128). mask's
// origin is placed at at.
func (c *Canvas) Stamp(p Plane, mask *image.Gray, at image.Point, v uint8) {
	if mask == nil {
		return
	}
	dst := c.plane(p)
	mb := mask.Bounds()
	for y := mb.Min.Y; y < mb.Max.Y; y++ {
		for x := mb.Min.X; x < mb.Max.X; x++ {
			if mask.GrayAt(x, y).Y >= 128 {
				continue
			}
			pt := image.Pt(at.X+x-mb.Min.X, at.Y+y-mb.Min.Y)
			if pt.In(dst.Rect) {
				dst.SetGray(pt.X, pt.Y, color.Gray{Y: v})
			}
		}
	}
}

// Text draws s with its anchor point at pt and returns the ink bounds.
func (c *Canvas) Text(p Plane, face font.Face, pt image.Point, s string, a Anchor, v uint8) image.Rectangle {
	dot := anchorDot(face, s, pt, a)
	d := &font.Drawer{
		Dst:  c.plane(p),
		Src:  image.NewUniform(color.Gray{Y: v}),
		Face: face,
		Dot:  dot,
	}
	d.DrawString(s)
	b, _ := font.BoundString(face, s)
	return fixedRect(b.Add(dot))
}

// TextBounds is the ink rectangle Text would report, without drawing.
func TextBounds(face font.Face, pt image.Point, s string, a Anchor) image.Rectangle {
	b, _ := font.BoundString(face, s)
	return fixedRect(b.Add(anchorDot(face, s, pt, a)))
}

func fixedRect(r fixed.Rectangle26_6) image.Rectangle {
	return image.Rect(r.Min.X.Floor(), r.Min.Y.Floor(), r.Max.X.Ceil(), r.Max.Y.Ceil())
}
