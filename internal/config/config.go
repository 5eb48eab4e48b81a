// Package config loads the dashboard configuration (config.yaml) and panel
// layout (layout.yaml). Both are read once at startup and treated as
// immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // Pi images may ship without zoneinfo

	"gopkg.in/yaml.v3"
)

// Defaults applied when a key is absent from config.yaml.
const (
	DefaultTimezone          = "Europe/Warsaw"
	DefaultCacheDirName      = "epaper_dashboard_cache"
	DefaultRateLimitCooldown = time.Hour
	DefaultDeepRefreshHour   = 3
	DefaultMaxUpcomingEvents = 8
)

// DefaultIntervals are the minimum refresh intervals per source.
var DefaultIntervals = map[string]time.Duration{
	"weather":     30 * time.Minute,
	"air_quality": 15 * time.Minute,
	"calendar":    15 * time.Minute,
	"time":        time.Minute,
}

// APIKeys holds upstream credentials.
type APIKeys struct {
	Airly                  string `yaml:"airly"`
	AccuWeather            string `yaml:"accuweather"`
	AccuWeatherLocationKey string `yaml:"accuweather_location_key"`
}

// Location is the dashboard's geographic position.
type Location struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// CalendarIDs names the Google calendars the dashboard reads.
type CalendarIDs struct {
	Personal string `yaml:"personal"`
	Holidays string `yaml:"holidays"`
	Shared   string `yaml:"shared"`
	Unusual  string `yaml:"unusual"`
}

// GoogleCalendar configures the calendar source.
type GoogleCalendar struct {
	CredentialsFile   string      `yaml:"credentials_file"`
	TokenFile         string      `yaml:"token_file"`
	CalendarIDs       CalendarIDs `yaml:"calendar_ids"`
	MaxUpcomingEvents int         `yaml:"max_upcoming_events"`
}

// Assets locates fonts, icons and images relative to the assets root.
type Assets struct {
	Root                string `yaml:"root"`
	FontsDir            string `yaml:"fonts_dir"`
	IconsDir            string `yaml:"icons_dir"`
	ImagesDir           string `yaml:"images_dir"`
	IconsFeatherSubdir  string `yaml:"icons_feather_subdir"`
	FontRegular         string `yaml:"font_regular"`
	FontBold            string `yaml:"font_bold"`
	FontEasterEgg       string `yaml:"font_easter_egg"`
	SplashLogoWaveshare string `yaml:"splash_logo_waveshare"`
	SplashLogoCircle    string `yaml:"splash_logo_circle"`
	EasterEggImage      string `yaml:"easter_egg_image"`
}

// HTTP configures the optional local status server.
type HTTP struct {
	Addr      string `yaml:"addr"`
	Advertise bool   `yaml:"advertise"`
}

// MQTT configures the optional readings publisher.
type MQTT struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the parsed config.yaml.
type Config struct {
	APIKeys           APIKeys                  `yaml:"api_keys"`
	Location          Location                 `yaml:"location"`
	Timezone          string                   `yaml:"timezone"`
	GoogleCalendar    GoogleCalendar           `yaml:"google_calendar"`
	Assets            Assets                   `yaml:"assets"`
	CacheDirName      string                   `yaml:"cache_dir_name"`
	FlipDisplay       bool                     `yaml:"flip_display"`
	RefreshIntervals  map[string]time.Duration `yaml:"refresh_intervals"`
	RateLimitCooldown time.Duration            `yaml:"rate_limit_cooldown"`
	DeepRefreshHour   *int                     `yaml:"deep_refresh_hour"`
	HTTP              HTTP                     `yaml:"http"`
	MQTT              MQTT                     `yaml:"mqtt"`
}

// Load reads and validates config.yaml.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes config YAML, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.CacheDirName == "" {
		c.CacheDirName = DefaultCacheDirName
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = DefaultRateLimitCooldown
	}
	if c.DeepRefreshHour == nil {
		h := DefaultDeepRefreshHour
		c.DeepRefreshHour = &h
	}
	if c.GoogleCalendar.MaxUpcomingEvents <= 0 {
		c.GoogleCalendar.MaxUpcomingEvents = DefaultMaxUpcomingEvents
	}
	merged := make(map[string]time.Duration, len(DefaultIntervals))
	for k, v := range DefaultIntervals {
		merged[k] = v
	}
	for k, v := range c.RefreshIntervals {
		merged[k] = v
	}
	c.RefreshIntervals = merged
	c.Assets.applyDefaults()
}

func (a *Assets) applyDefaults() {
	set := func(p *string, v string) {
		if *p == "" {
			*p = v
		}
	}
	set(&a.Root, "assets")
	set(&a.FontsDir, "fonts")
	set(&a.IconsDir, "icons")
	set(&a.ImagesDir, "images")
	set(&a.IconsFeatherSubdir, "feather")
	set(&a.FontRegular, "RobotoMono-Regular.ttf")
	set(&a.FontBold, "RobotoMono-Bold.ttf")
	set(&a.FontEasterEgg, "RobotoMono-Bold.ttf")
	set(&a.SplashLogoWaveshare, "waveshare.svg")
	set(&a.SplashLogoCircle, "circle.svg")
	set(&a.EasterEggImage, "easter_egg.png")
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return fmt.Errorf("config: location.latitude %v out of range", c.Location.Latitude)
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return fmt.Errorf("config: location.longitude %v out of range", c.Location.Longitude)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if h := c.DeepHour(); h < 0 || h > 23 {
		return fmt.Errorf("config: deep_refresh_hour %d out of range", h)
	}
	for name, d := range c.RefreshIntervals {
		if d < 0 {
			return fmt.Errorf("config: refresh_intervals.%s must not be negative", name)
		}
	}
	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return errors.New("config: mqtt.topic is required when mqtt.broker is set")
	}
	return nil
}

// DeepHour returns the configured deep-refresh hour.
func (c Config) DeepHour() int {
	if c.DeepRefreshHour == nil {
		return DefaultDeepRefreshHour
	}
	return *c.DeepRefreshHour
}

// Zone returns the configured time zone. Validate guarantees it loads.
func (c Config) Zone() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Intervals returns a copy of the per-source refresh intervals.
func (c Config) Intervals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.RefreshIntervals))
	for k, v := range c.RefreshIntervals {
		out[k] = v
	}
	return out
}
