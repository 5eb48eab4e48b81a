// Package assets copies the bundled fonts, icons and images into the runtime
// cache directory and resolves the paths the compositor loads them from.
package assets

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/brianhealey/inkdash/internal/config"
)

// Paths is the resolved location of every asset the dashboard draws.
type Paths struct {
	FontRegular     string
	FontBold        string
	FontEasterEgg   string
	FeatherDir      string
	IconHumidity    string
	IconPressure    string
	IconSyncProblem string
	IconAirQuality  string
	IconSunrise     string
	IconSunset      string
	SplashWaveshare string
	SplashCircle    string
	EasterEgg       string
}

// Resolve builds the asset table for assets synced under runtimeRoot.
func Resolve(runtimeRoot string, a config.Assets) Paths {
	fonts := filepath.Join(runtimeRoot, filepath.Base(a.FontsDir))
	icons := filepath.Join(runtimeRoot, filepath.Base(a.IconsDir))
	images := filepath.Join(runtimeRoot, filepath.Base(a.ImagesDir))
	feather := filepath.Join(icons, a.IconsFeatherSubdir)

	p := Paths{
		FontRegular:     filepath.Join(fonts, a.FontRegular),
		FontBold:        filepath.Join(fonts, a.FontBold),
		FontEasterEgg:   filepath.Join(fonts, a.FontEasterEgg),
		FeatherDir:      feather,
		SplashWaveshare: filepath.Join(images, a.SplashLogoWaveshare),
		SplashCircle:    filepath.Join(images, a.SplashLogoCircle),
		EasterEgg:       filepath.Join(images, a.EasterEggImage),
	}
	p.IconHumidity = p.Feather("droplet")
	p.IconPressure = p.Feather("arrow-down")
	p.IconSyncProblem = p.Feather("alert-triangle")
	p.IconAirQuality = p.Feather("bar-chart-2")
	p.IconSunrise = p.Feather("sunrise")
	p.IconSunset = p.Feather("sunset")
	return p
}

// Feather returns the path of the named Feather icon.
func (p Paths) Feather(name string) string {
	return filepath.Join(p.FeatherDir, name+".svg")
}

// Named returns every file asset keyed by a stable name.
func (p Paths) Named() map[string]string {
	return map[string]string{
		"font_regular":          p.FontRegular,
		"font_bold":             p.FontBold,
		"font_easter_egg":       p.FontEasterEgg,
		"icon_humidity":         p.IconHumidity,
		"icon_pressure":         p.IconPressure,
		"icon_sync_problem":     p.IconSyncProblem,
		"icon_air_quality":      p.IconAirQuality,
		"icon_sunrise":          p.IconSunrise,
		"icon_sunset":           p.IconSunset,
		"splash_logo_waveshare": p.SplashWaveshare,
		"splash_logo_circle":    p.SplashCircle,
		"easter_egg_image":      p.EasterEgg,
	}
}

// Verify checks that every asset exists. All missing files are reported.
func Verify(p Paths) error {
	named := p.Named()
	names := make([]string, 0, len(named))
	for n := range named {
		names = append(names, n)
	}
	sort.Strings(names)

	var errs []error
	for _, n := range names {
		if _, err := os.Stat(named[n]); err != nil {
			slog.Error("assets: missing asset", "name", n, "path", named[n])
			errs = append(errs, fmt.Errorf("asset %s: %w", n, err))
		}
	}
	if info, err := os.Stat(p.FeatherDir); err != nil || !info.IsDir() {
		errs = append(errs, fmt.Errorf("asset feather dir %s: not a directory", p.FeatherDir))
	}
	return errors.Join(errs...)
}

// Sync replaces dst with a copy of the src tree.
func Sync(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("assets: source %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("assets: source %s is not a directory", src)
	}
	slog.Info("assets: syncing to cache", "src", src, "dst", dst)
	if err := os.RemoveAll(dst); err != nil {
		return fmt.Errorf("assets: clear %s: %w", dst, err)
	}

	files := 0
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		files++
		return copyFile(path, target)
	})
	if err != nil {
		return fmt.Errorf("assets: sync: %w", err)
	}
	slog.Info("assets: sync complete", "files", files)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
