package render

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/image/font"

	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/models"
)

// --- time ---

type timePanel struct{}

func (timePanel) Name() string { return config.PanelTime }

func (timePanel) Draw(c *Canvas, s *models.Snapshots, r *Resources, pc config.PanelConfig) error {
	x0, y0, x1, y1 := pc.Rect[0], pc.Rect[1], pc.Rect[2], pc.Rect[3]
	boxW := x1 - x0
	f := r.Fonts
	t := s.Time

	const (
		padding = 10
		sunIcon = 36
	)
	dateColW := boxW * 60 / 100
	sunColW := boxW - dateColW

	rise, errRise := r.Icons.Get(r.Assets.IconSunrise, sunIcon, MethodAlpha)
	set, errSet := r.Icons.Get(r.Assets.IconSunset, sunIcon, MethodAlpha)

	timeH := InkHeight(f.Large, t.Time)
	weekdayH := InkHeight(f.Medium, t.Weekday)
	dateColH := weekdayH + 5 + InkHeight(f.Medium, t.Date)
	bottomH := max(dateColH, sunIcon*2)
	total := timeH + padding + bottomH

	y := y0 + (y1-y0-total)/2 + pc.YOffset
	c.Text(Black, f.Large, image.Pt(x0+boxW/2, y), t.Time, MiddleTop, Ink)
	y += timeH + padding

	dateCX := x0 + dateColW/2
	c.Text(Black, f.Medium, image.Pt(dateCX, y), t.Weekday, MiddleTop, Ink)
	c.Text(Black, f.Medium, image.Pt(dateCX, y+weekdayH+5), t.Date, MiddleTop, Ink)

	sunCX := x0 + dateColW + sunColW/2
	sunCY := y + bottomH/2
	drawIconLabel(c, rise, s.Weather.Sunrise, f.Small, sunCX, sunCY-sunIcon/2)
	drawIconLabel(c, set, s.Weather.Sunset, f.Small, sunCX, sunCY+sunIcon/2)

	return errors.Join(errRise, errSet)
}

// drawIconLabel centres "icon text" horizontally on cx with both vertically
// centred on cy.
func drawIconLabel(c *Canvas, icon *image.Gray, text string, face font.Face, cx, cy int) {
	if icon == nil {
		return
	}
	iw, ih := icon.Bounds().Dx(), icon.Bounds().Dy()
	start := cx - (iw+5+TextWidth(face, text))/2
	c.Stamp(Black, icon, image.Pt(start, cy-ih/2), Ink)
	c.Text(Black, face, image.Pt(start+iw+5, cy), text, LeftMiddle, Ink)
}

// --- weather_and_air ---

type weatherPanel struct{}

func (weatherPanel) Name() string { return config.PanelWeather }

func (weatherPanel) Draw(c *Canvas, s *models.Snapshots, r *Resources, pc config.PanelConfig) error {
	w := s.Weather
	iconName := w.Icon
	if iconName == "" {
		iconName = models.IconSyncProblem
	}

	const (
		padding    = 20
		mainIcon   = 90
		detailIcon = 24
	)
	main, err := r.Icons.Get(r.Assets.Feather(iconName), mainIcon, MethodDither)
	if err != nil {
		slog.Warn("render: weather icon unavailable, using text layout", "icon", iconName, "err", err)
		drawWeatherText(c, r.Fonts, w, pc)
		return nil
	}
	humIcon, errH := r.Icons.Get(r.Assets.IconHumidity, detailIcon, MethodAlpha)
	presIcon, errP := r.Icons.Get(r.Assets.IconPressure, detailIcon, MethodAlpha)
	if err := errors.Join(errH, errP); err != nil {
		slog.Warn("render: detail icons unavailable, using text layout", "err", err)
		drawWeatherText(c, r.Fonts, w, pc)
		return nil
	}

	x0, y0 := pc.Rect[0], pc.Rect[1]
	panelW := pc.Rect[2] - x0
	f := r.Fonts

	temp := w.TempReal.String() + "°C"
	topW := mainIcon + padding + TextWidth(f.WeatherTemp, temp)
	iconX := x0 + (panelW-topW)/2
	iconY := y0 + 15
	c.Stamp(Black, main, image.Pt(iconX, iconY), Ink)

	tempY := iconY + mainIcon/2
	c.Text(Black, f.WeatherTemp, image.Pt(iconX+mainIcon+padding, tempY), temp, LeftMiddle, Ink)

	detailsCY := tempY + 50
	detailsY := detailsCY - detailIcon/2
	hum := w.Humidity.String() + "%"
	pres := w.Pressure.String() + " hPa"
	humW := detailIcon + 5 + TextWidth(f.Small, hum)
	presW := detailIcon + 5 + TextWidth(f.Small, pres)
	x := x0 + (panelW-(humW+padding+presW))/2

	c.Stamp(Black, humIcon, image.Pt(x, detailsY), Ink)
	c.Text(Black, f.Small, image.Pt(x+detailIcon+5, detailsCY), hum, LeftMiddle, Ink)
	x += humW + padding
	c.Stamp(Black, presIcon, image.Pt(x, detailsY), Ink)
	c.Text(Black, f.Small, image.Pt(x+detailIcon+5, detailsCY), pres, LeftMiddle, Ink)
	return nil
}

func drawWeatherText(c *Canvas, f *Fonts, w models.WeatherData, pc config.PanelConfig) {
	x0, y0 := pc.Rect[0], pc.Rect[1]
	cx := x0 + (pc.Rect[2]-x0)/2

	c.Text(Black, f.WeatherTemp, image.Pt(cx, y0+60), w.TempReal.String()+"°C", MiddleTop, Ink)

	step := multilineStep(f.Small, 6)
	lines := []string{
		fmt.Sprintf("Wilgotność: %s%%", w.Humidity),
		fmt.Sprintf("Ciśnienie: %s hPa", w.Pressure),
	}
	for i, line := range lines {
		c.Text(Black, f.Small, image.Pt(cx, y0+120+i*step), line, MiddleAscender, Ink)
	}
}

// --- events ---

type eventsPanel struct{}

func (eventsPanel) Name() string { return config.PanelEvents }

func (eventsPanel) Draw(c *Canvas, s *models.Snapshots, r *Resources, pc config.PanelConfig) error {
	const (
		lineH      = 30
		timeW      = 70
		leftPad    = 20
		topPad     = 15
		summaryMax = 30
	)
	f := r.Fonts
	cal := s.Calendar

	events := cal.UpcomingEvents
	if r.MaxUpcoming > 0 && len(events) > r.MaxUpcoming {
		events = events[:r.MaxUpcoming]
	}

	yStart := pc.Rect[1] + topPad + pc.YOffset
	xStart := pc.Rect[0] + leftPad
	c.Text(Black, f.SmallBold, image.Pt(xStart, yStart), "Nadchodzące:", LeftAscender, Ink)

	if len(events) == 0 {
		c.Text(Black, f.Small, image.Pt(xStart, yStart+lineH), "- Brak wydarzeń -", LeftAscender, Ink)
		return nil
	}

	holidays := make(map[string]bool, len(cal.HolidayDates))
	for _, d := range cal.HolidayDates {
		holidays[d] = true
	}
	today := r.Now.Format(dateLayout)

	for i, ev := range events {
		slotTop := yStart + (i+1)*lineH
		cy := slotTop + lineH/2

		start, err := parseEventStart(ev.Start, r.Now.Location())
		if err != nil {
			slog.Warn("render: bad event start", "start", ev.Start, "err", err)
			continue
		}
		summary := ev.Summary
		if summary == "" {
			summary = "Brak tytułu"
		}
		summary = Shorten(summary, summaryMax, "...")

		plane, fill, label := Black, Ink, start.Format("02.01")
		inverted := false
		switch {
		case ev.IsHoliday:
			plane, fill, inverted = Red, Paper, true
		case start.Format(dateLayout) == today:
			wd := start.Weekday()
			if wd == time.Saturday || wd == time.Sunday || holidays[start.Format(dateLayout)] {
				plane = Red
			}
			fill, inverted, label = Paper, true, start.Format("15:04")
		}
		if inverted {
			c.Fill(plane, image.Rect(pc.Rect[0], slotTop, pc.Rect[2]+1, slotTop+lineH+1), Ink)
		}
		c.Text(plane, f.SmallBold, image.Pt(xStart, cy), label, LeftMiddle, fill)
		c.Text(plane, f.Small, image.Pt(xStart+timeW, cy), summary, LeftMiddle, fill)
	}
	return nil
}

const dateLayout = "2006-01-02"

// parseEventStart accepts the start formats written by the calendar source:
// a local date-time, a plain date or RFC 3339.
func parseEventStart(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", dateLayout} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

// --- calendar ---

type calendarPanel struct{}

func (calendarPanel) Name() string { return config.PanelCalendar }

var weekdayHeaders = [7]string{"Pn", "Wt", "Śr", "Cz", "Pt", "So", "Nd"}

func (calendarPanel) Draw(c *Canvas, s *models.Snapshots, r *Resources, pc config.PanelConfig) error {
	const (
		cellW = 48
		cellH = 40
		gridW = 7 * cellW
	)
	grid := s.Calendar.MonthCalendar
	if len(grid) == 0 {
		return nil
	}
	f := r.Fonts
	x0, y0 := pc.Rect[0], pc.Rect[1]
	boxW, boxH := pc.Rect[2]-x0, pc.Rect[3]-y0
	gridH := (len(grid) + 1) * cellH

	gx := x0 + (boxW-gridW)/2
	gy := y0 + (boxH-gridH)/2 + pc.YOffset - 50

	for i, h := range weekdayHeaders {
		c.Text(Black, f.SmallBold, image.Pt(gx+i*cellW+cellW/2, gy+cellH/2), h, MiddleMiddle, Ink)
	}

	bodyY := gy + cellH
	for wi, week := range grid {
		for di, day := range week {
			cx := gx + di*cellW
			cy := bodyY + wi*cellH
			cell := image.Rect(cx, cy, cx+cellW+1, cy+cellH+1)
			center := image.Pt(cx+cellW/2, cy+cellH/2)
			label := strconv.Itoa(day.Day)
			face := f.Small
			if day.IsToday {
				face = f.SmallBold
			}

			switch {
			case day.HasEvent && day.IsHoliday:
				c.Polygon(Black, []image.Point{image.Pt(cx, cy), image.Pt(cx+cellW, cy), image.Pt(cx, cy+cellH)}, Ink)
				c.Polygon(Red, []image.Point{image.Pt(cx+cellW, cy+cellH), image.Pt(cx+cellW, cy), image.Pt(cx, cy+cellH)}, Ink)
				c.Text(Black, face, center, label, MiddleMiddle, Paper)
				c.Text(Red, face, center, label, MiddleMiddle, Paper)
			case day.HasEvent:
				c.Fill(Black, cell, Ink)
				c.Text(Black, face, center, label, MiddleMiddle, Paper)
			case day.IsHoliday:
				c.Fill(Red, cell, Ink)
				c.Text(Red, face, center, label, MiddleMiddle, Paper)
			case day.IsWeekend:
				c.Text(Red, face, center, label, MiddleMiddle, Ink)
			case day.IsCurrentMonth:
				c.Text(Black, face, center, label, MiddleMiddle, Ink)
			}

			if day.IsToday {
				b := TextBounds(face, center, label, MiddleMiddle)
				c.HLine(Black, b.Min.X, b.Max.X, b.Max.Y+2, 2, Ink)
			}
		}
	}
	return nil
}
