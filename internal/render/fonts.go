package render

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"

	"github.com/brianhealey/inkdash/internal/assets"
)

// Fonts is the shared face table handed to every panel.
type Fonts struct {
	Large       font.Face
	WeatherTemp font.Face
	Medium      font.Face
	Small       font.Face
	SmallBold   font.Face
	EasterEgg   font.Face
}

// FallbackFonts uses the built-in 7x13 bitmap face for every role.
func FallbackFonts() *Fonts {
	f := basicfont.Face7x13
	return &Fonts{Large: f, WeatherTemp: f, Medium: f, Small: f, SmallBold: f, EasterEgg: f}
}

// LoadFonts opens the Roboto Mono faces. A font that cannot be loaded is
// replaced by the bitmap fallback and reported in the returned error; the
// table is always usable.
func LoadFonts(p assets.Paths) (*Fonts, error) {
	regular, errR := parseFont(p.FontRegular)
	bold, errB := parseFont(p.FontBold)
	egg, errE := parseFont(p.FontEasterEgg)

	f := FallbackFonts()
	var firstErr error
	face := func(ft *opentype.Font, size float64, dst *font.Face) {
		if ft == nil {
			return
		}
		fc, err := opentype.NewFace(ft, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		*dst = fc
	}
	face(bold, 135, &f.Large)
	face(regular, 65, &f.WeatherTemp)
	face(bold, 32, &f.Medium)
	face(regular, 20, &f.Small)
	face(bold, 20, &f.SmallBold)
	face(egg, 160, &f.EasterEgg)

	for _, err := range []error{errR, errB, errE} {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		slog.Error("render: font load failed, using bitmap fallback", "err", firstErr)
	}
	return f, firstErr
}

func parseFont(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	ft, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	return ft, nil
}
