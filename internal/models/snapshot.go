// Package models defines the snapshot documents shared between the data
// sources, the snapshot store and the compositor.
package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Source names. Each one owns a snapshot file and a freshness entry.
const (
	SourceTime       = "time"
	SourceAirQuality = "air_quality"
	SourceWeather    = "weather"
	SourceCalendar   = "calendar"
)

// AllSources lists every refreshable source in fetch order.
var AllSources = []string{SourceTime, SourceAirQuality, SourceWeather, SourceCalendar}

// Snapshot document names (file stem in the cache dir).
const (
	DocTime        = "time"
	DocWeather     = "weather"
	DocAirQuality  = "air_quality"
	DocAccuWeather = "accuweather"
	DocCalendar    = "calendar"
)

// AuthError is the in-band marker written to CalendarData.Error when the
// calendar credentials are unusable.
const AuthError = "AUTH_ERROR"

// Reading is a displayable measurement. It marshals as a JSON number when it
// holds one and as a string placeholder ("--") otherwise.
type Reading string

// Placeholder is the reading shown when a value is unavailable.
const Placeholder Reading = "--"

// ReadingOf rounds v to the nearest integer.
func ReadingOf(v float64) Reading {
	return Reading(strconv.FormatFloat(float64(int64(v+copysignHalf(v))), 'f', -1, 64))
}

func copysignHalf(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}

func (r Reading) String() string {
	if r == "" {
		return string(Placeholder)
	}
	return string(r)
}

func (r Reading) MarshalJSON() ([]byte, error) {
	s := r.String()
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*r = Placeholder
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*r = Reading(str)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*r = ReadingOf(f)
	return nil
}

// Stamped is implemented by documents that carry a capture timestamp.
type Stamped interface {
	SetTimestamp(t time.Time)
}

// TimeData is the time.json document.
type TimeData struct {
	Time    string `json:"time"`
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
}

// WeatherData is the merged weather.json document.
type WeatherData struct {
	Icon            string    `json:"icon"`
	ForecastIcon    string    `json:"forecast_icon"`
	TempReal        Reading   `json:"temp_real"`
	Humidity        Reading   `json:"humidity"`
	Pressure        Reading   `json:"pressure"`
	Sunrise         string    `json:"sunrise"`
	Sunset          string    `json:"sunset"`
	CloudCover      int       `json:"cloud_cover"`
	ForecastTempMin Reading   `json:"forecast_temp_min"`
	ForecastTempMax Reading   `json:"forecast_temp_max"`
	Timestamp       time.Time `json:"timestamp"`
}

func (w *WeatherData) SetTimestamp(t time.Time) { w.Timestamp = t }

// AirIndex is one entry of the Airly "indexes" list.
type AirIndex struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Level       string  `json:"level"`
	Description string  `json:"description"`
	Advice      string  `json:"advice,omitempty"`
	Color       string  `json:"color,omitempty"`
}

// AirValue is one entry of the Airly "values" list.
type AirValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// AirCurrent is the "current" block of an Airly measurement.
type AirCurrent struct {
	FromDateTime string     `json:"fromDateTime,omitempty"`
	TillDateTime string     `json:"tillDateTime,omitempty"`
	Values       []AirValue `json:"values"`
	Indexes      []AirIndex `json:"indexes"`
	Standards    []any      `json:"standards,omitempty"`
}

// AirQualityData is the air_quality.json document.
type AirQualityData struct {
	Current   AirCurrent `json:"current"`
	Timestamp time.Time  `json:"timestamp"`
}

func (a *AirQualityData) SetTimestamp(t time.Time) { a.Timestamp = t }

// Value returns the named measurement, e.g. "TEMPERATURE".
func (a AirQualityData) Value(name string) (float64, bool) {
	for _, v := range a.Current.Values {
		if v.Name == name {
			return v.Value, true
		}
	}
	return 0, false
}

// AccuWeatherData is the intermediate accuweather.json document. The raw API
// objects are kept verbatim so later merges can pick fields without refetching.
type AccuWeatherData struct {
	Current   AccuCurrent  `json:"current"`
	Forecast  AccuForecast `json:"forecast"`
	Timestamp time.Time    `json:"timestamp"`
}

func (a *AccuWeatherData) SetTimestamp(t time.Time) { a.Timestamp = t }

// AccuCurrent is the subset of a current-conditions entry the dashboard uses.
type AccuCurrent struct {
	WeatherIcon *int   `json:"WeatherIcon"`
	WeatherText string `json:"WeatherText,omitempty"`
	CloudCover  int    `json:"CloudCover"`
}

// AccuForecast is the subset of a daily forecast entry the dashboard uses.
type AccuForecast struct {
	Day struct {
		Icon *int `json:"Icon"`
	} `json:"Day"`
	Temperature struct {
		Minimum AccuValue `json:"Minimum"`
		Maximum AccuValue `json:"Maximum"`
	} `json:"Temperature"`
}

// AccuValue is a value/unit pair as returned by AccuWeather.
type AccuValue struct {
	Value float64 `json:"Value"`
	Unit  string  `json:"Unit,omitempty"`
}

// Event is one upcoming calendar entry. Multi-day events are expanded into
// one Event per day.
type Event struct {
	Summary   string `json:"summary"`
	Start     string `json:"start"`
	IsHoliday bool   `json:"is_holiday"`
}

// DayCell is one cell of the month grid.
type DayCell struct {
	Day            int    `json:"day"`
	Date           string `json:"date"`
	IsToday        bool   `json:"is_today"`
	IsWeekend      bool   `json:"is_weekend"`
	IsHoliday      bool   `json:"is_holiday"`
	HasEvent       bool   `json:"has_event"`
	IsCurrentMonth bool   `json:"is_current_month"`
}

// CalendarData is the calendar.json document. Several fetchers contribute
// fields to it, so it is only ever written through a locked merge.
type CalendarData struct {
	UpcomingEvents     []Event     `json:"upcoming_events"`
	EventDates         []string    `json:"event_dates"`
	HolidayDates       []string    `json:"holiday_dates"`
	UnusualHoliday     string      `json:"unusual_holiday"`
	UnusualHolidayDesc string      `json:"unusual_holiday_desc"`
	MonthCalendar      [][]DayCell `json:"month_calendar"`
	Error              string      `json:"error,omitempty"`
	Timestamp          time.Time   `json:"timestamp"`
}

func (c *CalendarData) SetTimestamp(t time.Time) { c.Timestamp = t }

// AuthFailed reports whether the calendar source flagged a credentials problem.
func (c CalendarData) AuthFailed() bool { return c.Error == AuthError }
