package sources

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/snapshot"
)

// AccuWeatherBaseURL is the AccuWeather data service root.
const AccuWeatherBaseURL = "http://dataservice.accuweather.com"

// AccuWeather fetches current conditions and the one-day forecast. The raw
// result is kept in accuweather.json and merged into weather.json by
// WeatherMerger.
type AccuWeather struct {
	store       *snapshot.Store
	apiKey      string
	locationKey string
	baseURL     string
	api         *upstream
}

// NewAccuWeather returns the weather source.
func NewAccuWeather(store *snapshot.Store, cfg config.Config, opts ...Option) *AccuWeather {
	o := buildOptions(AccuWeatherBaseURL, opts)
	return &AccuWeather{
		store:       store,
		apiKey:      cfg.APIKeys.AccuWeather,
		locationKey: cfg.APIKeys.AccuWeatherLocationKey,
		baseURL:     o.baseURL,
		api:         newUpstream(models.SourceWeather, http.StatusServiceUnavailable, o),
	}
}

func (a *AccuWeather) Name() string { return models.SourceWeather }

// Fetch downloads both endpoints and writes accuweather.json. Nothing is
// written unless both calls return data.
func (a *AccuWeather) Fetch(ctx context.Context, _ time.Time) error {
	return wrapFetch(a.Name(), a.fetch(ctx))
}

func (a *AccuWeather) fetch(ctx context.Context) error {
	if a.apiKey == "" || a.locationKey == "" {
		return ErrNotConfigured
	}
	params := url.Values{
		"apikey":   {a.apiKey},
		"language": {"pl-pl"},
		"details":  {"true"},
		"metric":   {"true"},
	}
	loc := url.PathEscape(a.locationKey)

	var current []models.AccuCurrent
	if err := a.api.getJSON(ctx, a.baseURL+"/currentconditions/v1/"+loc, params, nil, &current); err != nil {
		return err
	}
	var daily struct {
		DailyForecasts []models.AccuForecast `json:"DailyForecasts"`
	}
	if err := a.api.getJSON(ctx, a.baseURL+"/forecasts/v1/daily/1day/"+loc, params, nil, &daily); err != nil {
		return err
	}
	if len(current) == 0 || len(daily.DailyForecasts) == 0 {
		slog.Warn("accuweather: empty or incomplete response, keeping previous data",
			"current", len(current), "forecasts", len(daily.DailyForecasts))
		return errors.New("incomplete response")
	}

	doc := models.AccuWeatherData{Current: current[0], Forecast: daily.DailyForecasts[0]}
	if err := a.store.Write(models.DocAccuWeather, &doc); err != nil {
		return err
	}
	slog.Info("accuweather: conditions saved", "icon", derefIcon(doc.Current.WeatherIcon), "cloud_cover", doc.Current.CloudCover)
	return nil
}

func derefIcon(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
