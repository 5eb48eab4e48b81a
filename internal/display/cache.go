package display

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/brianhealey/inkdash/internal/render"
)

// Cache file names in the cache directory.
const (
	BlackFile = "image.png"
	RedFile   = "image_red.png"
)

// ErrNoCache is returned by a partial update when no full frame has been
// cached yet.
var ErrNoCache = errors.New("display: no cached frame")

func (a *Adapter) saveCache(f *render.Frame) error {
	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return fmt.Errorf("display: cache dir: %w", err)
	}
	if err := savePlane(filepath.Join(a.cacheDir, BlackFile), f.Black); err != nil {
		return err
	}
	if f.Red != nil {
		return savePlane(filepath.Join(a.cacheDir, RedFile), f.Red)
	}
	return nil
}

// savePlane writes g next to path and renames it into place so readers
// never see a partial PNG.
func savePlane(path string, g *image.Gray) error {
	tmp := path[:len(path)-len(filepath.Ext(path))] + ".tmp.png"
	if err := imaging.Save(g, tmp); err != nil {
		return fmt.Errorf("display: save %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("display: save %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (a *Adapter) loadCache() (*render.Frame, error) {
	bounds := a.dev.Bounds()
	black, err := loadPlane(filepath.Join(a.cacheDir, BlackFile), bounds)
	if err != nil {
		return nil, err
	}
	f := &render.Frame{Black: black}
	if a.dev.BiColor() {
		red, err := loadPlane(filepath.Join(a.cacheDir, RedFile), bounds)
		if err != nil {
			return nil, err
		}
		f.Red = red
	}
	return f, nil
}

func loadPlane(path string, bounds image.Rectangle) (*image.Gray, error) {
	img, err := imaging.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoCache, filepath.Base(path))
		}
		return nil, fmt.Errorf("display: load %s: %w", filepath.Base(path), err)
	}
	if img.Bounds().Size() != bounds.Size() {
		return nil, fmt.Errorf("%w: %s is %v, panel is %v", ErrNoCache, filepath.Base(path), img.Bounds().Size(), bounds.Size())
	}
	return toGray(img, bounds), nil
}

func toGray(img image.Image, bounds image.Rectangle) *image.Gray {
	g := image.NewGray(bounds)
	draw.Draw(g, bounds, img, img.Bounds().Min, draw.Src)
	return g
}

// CachedFrame returns the last frame sent by a full or partial update, from
// memory or disk.
func (a *Adapter) CachedFrame() (*render.Frame, error) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if a.cached != nil {
		return a.cached.Clone(), nil
	}
	f, err := a.loadCache()
	if err != nil {
		return nil, err
	}
	a.cached = f
	return f.Clone(), nil
}
