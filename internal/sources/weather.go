package sources

import (
	"context"
	"log/slog"
	"time"

	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/snapshot"
)

// weatherIcons maps AccuWeather icon numbers to Feather icon names.
var weatherIcons = map[int]string{
	1: "sun", 2: "sun", 3: "sun", 4: "sun", 5: "sun",
	6: "cloud", 7: "cloud", 8: "cloud",
	11: "align-justify",
	12: "cloud-rain", 13: "cloud-rain", 14: "cloud-rain",
	15: "cloud-lightning", 16: "cloud-lightning", 17: "cloud-lightning",
	18: "cloud-rain",
	19: "cloud-snow", 20: "cloud-snow", 21: "cloud-snow", 22: "cloud-snow", 23: "cloud-snow", 24: "cloud-snow",
	25: "cloud-drizzle", 26: "cloud-drizzle",
	29: "cloud-snow",
	30: "thermometer",
	31: "wind", 32: "wind",
	33: "moon", 34: "moon",
	35: "cloud", 36: "cloud", 37: "cloud", 38: "cloud",
	39: "cloud-rain", 40: "cloud-rain",
	41: "cloud-lightning", 42: "cloud-lightning",
	43: "cloud-snow", 44: "cloud-snow",
}

// WeatherIcon returns the Feather icon for an AccuWeather icon number.
// Unknown and missing numbers map to models.IconSyncProblem.
func WeatherIcon(n *int) string {
	if n == nil {
		return models.IconSyncProblem
	}
	if name, ok := weatherIcons[*n]; ok {
		return name
	}
	return models.IconSyncProblem
}

// WeatherMerger builds weather.json from the Airly measurement, the cached
// AccuWeather document and the computed sun times.
type WeatherMerger struct {
	store    *snapshot.Store
	lat, lng float64
	loc      *time.Location
}

// NewWeatherMerger returns a merger for the configured location.
func NewWeatherMerger(store *snapshot.Store, cfg config.Config) *WeatherMerger {
	return &WeatherMerger{
		store: store,
		lat:   cfg.Location.Latitude,
		lng:   cfg.Location.Longitude,
		loc:   cfg.Zone(),
	}
}

// Merge writes weather.json. Missing inputs degrade to placeholders, so the
// merge only fails when the document cannot be written.
func (w *WeatherMerger) Merge(_ context.Context, now time.Time) error {
	doc := models.DefaultWeather()

	var air models.AirQualityData
	if err := w.store.Read(models.DocAirQuality, &air); err != nil {
		slog.Warn("weather: air quality unavailable", "err", err)
	} else {
		doc.TempReal = readingFor(air, "TEMPERATURE")
		doc.Humidity = readingFor(air, "HUMIDITY")
		doc.Pressure = readingFor(air, "PRESSURE")
	}

	var accu models.AccuWeatherData
	if err := w.store.Read(models.DocAccuWeather, &accu); err != nil {
		slog.Info("weather: accuweather data unavailable", "err", err)
	} else {
		doc.Icon = WeatherIcon(accu.Current.WeatherIcon)
		doc.ForecastIcon = WeatherIcon(accu.Forecast.Day.Icon)
		doc.CloudCover = accu.Current.CloudCover
		doc.ForecastTempMin = models.ReadingOf(accu.Forecast.Temperature.Minimum.Value)
		doc.ForecastTempMax = models.ReadingOf(accu.Forecast.Temperature.Maximum.Value)
	}

	local := now.In(w.loc)
	if rise, set, ok := SunTimes(local, w.lat, w.lng); ok {
		doc.Sunrise = rise.In(w.loc).Format("15:04")
		doc.Sunset = set.In(w.loc).Format("15:04")
	} else {
		slog.Warn("weather: no sunrise or sunset today", "lat", w.lat, "lng", w.lng)
	}

	if err := w.store.Write(models.DocWeather, &doc); err != nil {
		return wrapFetch("weather merge", err)
	}
	slog.Info("weather: merged snapshot written", "icon", doc.Icon, "temp", doc.TempReal)
	return nil
}

func readingFor(air models.AirQualityData, name string) models.Reading {
	v, ok := air.Value(name)
	if !ok {
		return models.Placeholder
	}
	return models.ReadingOf(v)
}
