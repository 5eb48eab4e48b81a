package render

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/font"

	"github.com/brianhealey/inkdash/internal/assets"
	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/snapshot"
)

// AuthMessage replaces the calendar-backed panels when the calendar token is
// unusable.
const AuthMessage = "Błąd autoryzacji Kalendarza Google. Uruchom narzędzie autoryzacji ręcznie."

// bannerTop is the first row of the unusual-holiday banner area.
const bannerTop = 400

// ErrPanelDisabled is returned by RedrawPanel for a panel that is absent from
// the layout or switched off.
var ErrPanelDisabled = errors.New("render: panel disabled")

// Resources is everything a panel draws with besides the snapshots.
type Resources struct {
	Fonts  *Fonts
	Icons  *IconCache
	Assets assets.Paths
	// Now is the composition time in the dashboard's zone.
	Now         time.Time
	MaxUpcoming int
}

// Panel draws one rectangular region of the frame. A panel only touches
// pixels inside pc's rectangle.
type Panel interface {
	Name() string
	Draw(c *Canvas, s *models.Snapshots, r *Resources, pc config.PanelConfig) error
}

// Options configures a Compositor.
type Options struct {
	Bounds      image.Rectangle
	BiColor     bool
	Fonts       *Fonts
	Icons       *IconCache
	Assets      assets.Paths
	MaxUpcoming int
	Location    *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Compositor turns snapshots into frames. It owns the font and icon caches.
// Drawing is serialised: opentype faces keep per-face glyph buffers and
// must not be used from two goroutines at once.
type Compositor struct {
	layout config.Layout
	opts   Options
	order  []string
	panels map[string]Panel

	drawMu sync.Mutex
}

// New returns a compositor with the four dashboard panels registered.
func New(layout config.Layout, opts Options) *Compositor {
	if opts.Fonts == nil {
		opts.Fonts = FallbackFonts()
	}
	if opts.Icons == nil {
		opts.Icons = NewIconCache("")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Bounds.Empty() {
		opts.Bounds = image.Rect(0, 0, 800, 480)
	}
	c := &Compositor{layout: layout, opts: opts, panels: make(map[string]Panel)}
	for _, p := range []Panel{timePanel{}, weatherPanel{}, eventsPanel{}, calendarPanel{}} {
		c.SetPanel(p)
	}
	return c
}

// SetPanel registers p, replacing any panel with the same name. New names
// are drawn after the existing ones.
func (c *Compositor) SetPanel(p Panel) {
	if _, ok := c.panels[p.Name()]; !ok {
		c.order = append(c.order, p.Name())
	}
	c.panels[p.Name()] = p
}

// Bounds is the frame size the compositor draws.
func (c *Compositor) Bounds() image.Rectangle { return c.opts.Bounds }

// BiColor reports whether frames carry a red plane.
func (c *Compositor) BiColor() bool { return c.opts.BiColor }

func (c *Compositor) resources() *Resources {
	return &Resources{
		Fonts:       c.opts.Fonts,
		Icons:       c.opts.Icons,
		Assets:      c.opts.Assets,
		Now:         c.opts.Now().In(c.opts.Location),
		MaxUpcoming: c.opts.MaxUpcoming,
	}
}

// Compose draws every enabled panel, the optional debug borders and the
// unusual-holiday banner. A failing panel is logged and leaves its area
// blank; the rest of the frame is still drawn.
func (c *Compositor) Compose(s models.Snapshots, drawBorders bool) *Frame {
	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	f := NewFrame(c.opts.Bounds, c.opts.BiColor)
	cv := NewCanvas(f)
	r := c.resources()

	for _, name := range c.order {
		pc, ok := c.layout.Panel(name)
		if !ok || !pc.IsEnabled() {
			slog.Debug("render: panel disabled, skipping", "panel", name)
			continue
		}
		_ = c.drawIsolated(name, func() error { return c.drawPanel(cv, &s, r, name, pc) })
	}

	if drawBorders {
		for _, name := range c.layout.Names() {
			pc, _ := c.layout.Panel(name)
			if pc.IsEnabled() && pc.HasRect() {
				cv.Outline(Black, pc.Bounds(), Ink)
			}
		}
	}

	_ = c.drawIsolated("banner", func() error {
		drawBanner(cv, r.Fonts, s.Calendar.UnusualHoliday, s.Calendar.UnusualHolidayDesc)
		return nil
	})
	return f
}

// RedrawPanel draws only the named panel onto cv. The caller clears the
// panel area first.
func (c *Compositor) RedrawPanel(cv *Canvas, s models.Snapshots, name string) error {
	pc, ok := c.layout.Panel(name)
	if !ok || !pc.IsEnabled() {
		return fmt.Errorf("%w: %s", ErrPanelDisabled, name)
	}
	c.drawMu.Lock()
	defer c.drawMu.Unlock()
	r := c.resources()
	return c.drawIsolated(name, func() error { return c.drawPanel(cv, &s, r, name, pc) })
}

// PanelBounds returns the rectangle of an enabled panel.
func (c *Compositor) PanelBounds(name string) (image.Rectangle, bool) {
	pc, ok := c.layout.Panel(name)
	if !ok || !pc.IsEnabled() || !pc.HasRect() {
		return image.Rectangle{}, false
	}
	return pc.Bounds(), true
}

func (c *Compositor) drawPanel(cv *Canvas, s *models.Snapshots, r *Resources, name string, pc config.PanelConfig) error {
	if s.Calendar.AuthFailed() && (name == config.PanelEvents || name == config.PanelCalendar) {
		drawCenteredMessage(cv, r.Fonts, AuthMessage, pc)
		return nil
	}
	p, ok := c.panels[name]
	if !ok {
		slog.Debug("render: no drawer for panel", "panel", name)
		return nil
	}
	return p.Draw(cv, s, r, pc)
}

func (c *Compositor) drawIsolated(name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render: panel %s panicked: %v", name, rec)
			slog.Error("render: panel panicked", "panel", name, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	if err = fn(); err != nil {
		slog.Error("render: panel failed", "panel", name, "err", err)
	}
	return err
}

// LoadSnapshots reads every document the compositor needs, substituting the
// defaults for anything missing or corrupt.
func LoadSnapshots(st *snapshot.Store) models.Snapshots {
	s := models.DefaultSnapshots()
	s.Time, _ = snapshot.ReadOr(st, models.DocTime, s.Time)
	s.Weather, _ = snapshot.ReadOr(st, models.DocWeather, s.Weather)
	s.AirQuality, _ = snapshot.ReadOr(st, models.DocAirQuality, s.AirQuality)
	s.Calendar, _ = snapshot.ReadOr(st, models.DocCalendar, s.Calendar)
	return s
}

// multilineStep is the distance between baselines of consecutive lines.
func multilineStep(face font.Face, spacing int) int {
	return face.Metrics().Ascent.Ceil() + spacing
}

func drawCenteredMessage(cv *Canvas, f *Fonts, msg string, pc config.PanelConfig) {
	cx := pc.Rect[0] + (pc.Rect[2]-pc.Rect[0])/2
	cy := pc.Rect[1] + (pc.Rect[3]-pc.Rect[1])/2

	lines := Wrap(msg, 35)
	step := multilineStep(f.SmallBold, 4)
	top := cy - (step*(len(lines)-1)+LineHeight(f.SmallBold))/2
	for i, line := range lines {
		cv.Text(Black, f.SmallBold, image.Pt(cx, top+i*step), line, MiddleAscender, Ink)
	}
}

func drawBanner(cv *Canvas, f *Fonts, title, desc string) {
	if title == "" || strings.Contains(title, "Brak nietypowych świąt") {
		return
	}
	b := cv.Bounds()
	cx := b.Min.X + b.Dx()/2
	cy := bannerTop + (b.Max.Y-bannerTop)/2

	titleLines := Wrap(title, 45)
	titleStep := CapHeight(f.SmallBold) + 5
	total := len(titleLines) * titleStep

	var descLines []string
	descStep := CapHeight(f.Small) + 4
	if desc != "" {
		descLines = Wrap(desc, 55)
		total += len(descLines)*descStep + 5
	}

	y := cy - total/2 + 10
	for _, line := range titleLines {
		cv.Text(Black, f.SmallBold, image.Pt(cx, y), line, MiddleTop, Ink)
		y += titleStep
	}
	if len(descLines) > 0 {
		y += 5
		for _, line := range descLines {
			cv.Text(Black, f.Small, image.Pt(cx, y), line, MiddleTop, Ink)
			y += descStep
		}
	}
}
