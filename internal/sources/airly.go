package sources

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/snapshot"
)

// AirlyBaseURL is the Airly API root.
const AirlyBaseURL = "https://airapi.airly.eu"

// Airly fetches point measurements (air quality plus temperature, humidity
// and pressure) for the configured location.
type Airly struct {
	store    *snapshot.Store
	apiKey   string
	lat, lng float64
	baseURL  string
	api      *upstream
}

// NewAirly returns the air-quality source.
func NewAirly(store *snapshot.Store, cfg config.Config, opts ...Option) *Airly {
	o := buildOptions(AirlyBaseURL, opts)
	return &Airly{
		store:   store,
		apiKey:  cfg.APIKeys.Airly,
		lat:     cfg.Location.Latitude,
		lng:     cfg.Location.Longitude,
		baseURL: o.baseURL,
		api:     newUpstream(models.SourceAirQuality, http.StatusTooManyRequests, o),
	}
}

func (a *Airly) Name() string { return models.SourceAirQuality }

// Fetch downloads the current measurement and writes air_quality.json. When
// the fetch fails and no document exists yet, the placeholder document is
// written so the compositor has something to show; the error is still
// returned.
func (a *Airly) Fetch(ctx context.Context, _ time.Time) error {
	err := a.fetch(ctx)
	if err != nil {
		a.seedPlaceholder()
	}
	return wrapFetch(a.Name(), err)
}

func (a *Airly) fetch(ctx context.Context) error {
	if a.apiKey == "" {
		return ErrNotConfigured
	}
	params := url.Values{
		"lat": {strconv.FormatFloat(a.lat, 'f', -1, 64)},
		"lng": {strconv.FormatFloat(a.lng, 'f', -1, 64)},
	}
	header := http.Header{
		"apikey":          {a.apiKey},
		"Accept-Language": {"pl"},
	}
	slog.Info("airly: fetching measurements", "lat", a.lat, "lng", a.lng)

	var doc models.AirQualityData
	if err := a.api.getJSON(ctx, a.baseURL+"/v2/measurements/point", params, header, &doc); err != nil {
		return err
	}
	if len(doc.Current.Values) == 0 && len(doc.Current.Indexes) == 0 {
		return errors.New("empty measurement")
	}
	if err := a.store.Write(models.DocAirQuality, &doc); err != nil {
		return err
	}
	slog.Info("airly: measurements saved", "values", len(doc.Current.Values))
	return nil
}

func (a *Airly) seedPlaceholder() {
	var existing models.AirQualityData
	if err := a.store.Read(models.DocAirQuality, &existing); !errors.Is(err, snapshot.ErrNotFound) {
		return
	}
	slog.Warn("airly: no cached measurement, writing placeholder")
	doc := models.DefaultAirQuality()
	if err := a.store.Write(models.DocAirQuality, &doc); err != nil {
		slog.Error("airly: could not write placeholder", "err", err)
	}
}
