package render

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

var previewRed = color.NRGBA{R: 0xd0, A: 0xff}

// Preview flattens f into a colour image: black ink black, red ink red,
// paper white. Red wins where both planes are inked.
func Preview(f *Frame) *image.NRGBA {
	b := f.Bounds()
	img := imaging.New(b.Dx(), b.Dy(), color.White)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch {
			case f.Red != nil && f.Red.GrayAt(x, y).Y < 128:
				img.SetNRGBA(x-b.Min.X, y-b.Min.Y, previewRed)
			case f.Black.GrayAt(x, y).Y < 128:
				img.SetNRGBA(x-b.Min.X, y-b.Min.Y, color.NRGBA{A: 0xff})
			}
		}
	}
	return img
}
