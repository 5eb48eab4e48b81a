package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Panel names understood by the compositor.
const (
	PanelTime     = "time"
	PanelWeather  = "weather_and_air"
	PanelEvents   = "events"
	PanelCalendar = "calendar"
)

// ErrNoLayout is returned when layout.yaml is missing or defines no panels.
var ErrNoLayout = errors.New("config: no layout")

// PanelConfig is one entry under "panels" in layout.yaml.
type PanelConfig struct {
	Enabled *bool `yaml:"enabled"`
	Rect    []int `yaml:"rect"`
	YOffset int   `yaml:"y_offset"`
}

// IsEnabled reports whether the panel should be drawn. A missing flag means
// enabled.
func (p PanelConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// Bounds returns the panel rectangle. rect is [x1, y1, x2, y2] with x2/y2
// inclusive, so the returned rectangle extends one pixel past them.
func (p PanelConfig) Bounds() image.Rectangle {
	if len(p.Rect) != 4 {
		return image.Rectangle{}
	}
	return image.Rect(p.Rect[0], p.Rect[1], p.Rect[2]+1, p.Rect[3]+1)
}

// HasRect reports whether the panel defines a usable rectangle.
func (p PanelConfig) HasRect() bool { return len(p.Rect) == 4 }

// Layout maps panel names to their configuration.
type Layout struct {
	Panels map[string]PanelConfig `yaml:"panels"`
}

// LoadLayout reads layout.yaml. A missing file or an empty panel set yields
// an error wrapping ErrNoLayout.
func LoadLayout(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Layout{}, fmt.Errorf("%w: %s not found", ErrNoLayout, path)
		}
		return Layout{}, fmt.Errorf("config: read layout %s: %w", path, err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes layout YAML.
func ParseLayout(data []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Layout{}, fmt.Errorf("config: parse layout: %w", err)
	}
	if len(l.Panels) == 0 {
		return Layout{}, fmt.Errorf("%w: panels section is empty", ErrNoLayout)
	}
	for name, p := range l.Panels {
		if p.Rect != nil && len(p.Rect) != 4 {
			return Layout{}, fmt.Errorf("config: panel %q: rect needs 4 values, got %d", name, len(p.Rect))
		}
		if p.IsEnabled() && !p.HasRect() {
			return Layout{}, fmt.Errorf("config: panel %q is enabled but has no rect", name)
		}
	}
	return l, nil
}

// Panel returns the named panel and whether it exists.
func (l Layout) Panel(name string) (PanelConfig, bool) {
	p, ok := l.Panels[name]
	return p, ok
}

// Enabled reports whether the named panel exists and is enabled.
func (l Layout) Enabled(name string) bool {
	p, ok := l.Panels[name]
	return ok && p.IsEnabled()
}

// Names returns panel names in a stable order: the built-in panels first,
// then any others alphabetically.
func (l Layout) Names() []string {
	known := []string{PanelTime, PanelWeather, PanelEvents, PanelCalendar}
	out := make([]string, 0, len(l.Panels))
	seen := make(map[string]bool, len(known))
	for _, n := range known {
		if _, ok := l.Panels[n]; ok {
			out = append(out, n)
			seen[n] = true
		}
	}
	var rest []string
	for n := range l.Panels {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
