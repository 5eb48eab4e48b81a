package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Method selects how an SVG's anti-aliased output is reduced to 1 bit.
type Method string

const (
	// MethodAlpha inks every pixel whose alpha is at least 128. Good for
	// line icons and logos.
	MethodAlpha Method = "alpha"
	// MethodDither composites over white and applies Floyd-Steinberg. Used
	// for weather icons.
	MethodDither Method = "dither"
)

type iconKey struct {
	path   string
	size   int
	method Method
}

// IconCache renders SVG files to 1-bit masks, in memory and under dir.
type IconCache struct {
	dir string

	mu    sync.Mutex
	icons map[iconKey]*image.Gray
}

// NewIconCache keeps rendered PNGs in dir. An empty dir disables the disk
// layer.
func NewIconCache(dir string) *IconCache {
	return &IconCache{dir: dir, icons: make(map[iconKey]*image.Gray)}
}

// Get returns path rendered at size x size. Dark pixels (0) are ink.
func (c *IconCache) Get(path string, size int, m Method) (*image.Gray, error) {
	k := iconKey{path: path, size: size, method: m}
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.icons[k]; ok {
		return g, nil
	}

	diskPath := c.diskPath(k)
	if diskPath != "" {
		if img, err := imaging.Open(diskPath); err == nil {
			slog.Debug("render: icon from disk cache", "path", diskPath)
			g := toGray(img)
			c.icons[k] = g
			return g, nil
		}
	}

	slog.Debug("render: rendering icon", "path", path, "size", size, "method", m)
	rgba, err := rasterize(path, size)
	if err != nil {
		return nil, err
	}
	var g *image.Gray
	if m == MethodDither {
		g = dither(rgba)
	} else {
		g = alphaMask(rgba)
	}
	c.icons[k] = g

	if diskPath != "" {
		if err := os.MkdirAll(c.dir, 0o755); err == nil {
			if err := imaging.Save(g, diskPath); err != nil {
				slog.Warn("render: icon cache write failed", "path", diskPath, "err", err)
			}
		}
	}
	return g, nil
}

// diskPath names the cached PNG after the last three path elements of the
// source, its size and method.
func (c *IconCache) diskPath(k iconKey) string {
	if c.dir == "" {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(filepath.Clean(k.path)), "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	base := strings.TrimSuffix(strings.Join(parts, "_"), filepath.Ext(k.path))
	return filepath.Join(c.dir, fmt.Sprintf("%s_%dx%d_%s.png", base, k.size, k.size, k.method))
}

func rasterize(path string, size int) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("render: read icon: %w", err)
	}
	// Feather icons stroke with currentColor.
	data = bytes.ReplaceAll(data, []byte("currentColor"), []byte("#000000"))
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.WarnErrorMode)
	if err != nil {
		return nil, fmt.Errorf("render: parse icon %s: %w", path, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))
	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, rgba, rgba.Bounds())
	dasher := rasterx.NewDasher(size, size, scanner)
	icon.Draw(dasher, 1.0)
	return rgba, nil
}

func alphaMask(src *image.RGBA) *image.Gray {
	b := src.Bounds()
	g := blankPlane(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if src.RGBAAt(x, y).A >= 128 {
				g.SetGray(x, y, color.Gray{Y: Ink})
			}
		}
	}
	return g
}

// dither flattens src onto white and reduces it to black and white with
// Floyd-Steinberg error diffusion.
func dither(src image.Image) *image.Gray {
	b := src.Bounds()
	flat := image.NewRGBA(b)
	draw.Draw(flat, b, image.White, image.Point{}, draw.Src)
	draw.Draw(flat, b, src, b.Min, draw.Over)

	pal := image.NewPaletted(b, color.Palette{color.Black, color.White})
	draw.FloydSteinberg.Draw(pal, b, flat, b.Min)
	return toGray(pal)
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	return g
}
