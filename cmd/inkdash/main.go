// Command inkdash drives the e-paper dashboard: it refreshes weather, air
// quality and calendar data on a schedule and redraws the panel.
// Run with --mock to use a simulated panel (no SPI device required).
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/brianhealey/inkdash/internal/api"
	"github.com/brianhealey/inkdash/internal/assets"
	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/dashboard"
	"github.com/brianhealey/inkdash/internal/display"
	"github.com/brianhealey/inkdash/internal/epd"
	"github.com/brianhealey/inkdash/internal/events"
	"github.com/brianhealey/inkdash/internal/freshness"
	"github.com/brianhealey/inkdash/internal/host"
	"github.com/brianhealey/inkdash/internal/jobs"
	"github.com/brianhealey/inkdash/internal/models"
	"github.com/brianhealey/inkdash/internal/publish"
	"github.com/brianhealey/inkdash/internal/ratelimit"
	"github.com/brianhealey/inkdash/internal/render"
	"github.com/brianhealey/inkdash/internal/snapshot"
	"github.com/brianhealey/inkdash/internal/sources"
	"github.com/brianhealey/inkdash/internal/zeroconf"
)

var version = "dev"

func main() {
	var (
		cfgPath     = flag.String("config", "config.yaml", "application config file")
		layoutPath  = flag.String("layout", "layout.yaml", "panel layout file")
		drawBorders = flag.Bool("draw-borders", false, "outline every panel (layout debugging)")
		egg         = flag.Bool("2137", false, "show the easter egg at startup")
		noSplash    = flag.Bool("no-splash", false, "skip the startup splash screen")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
		flip        = flag.Bool("flip", false, "rotate the panel image by 180 degrees")
		service     = flag.Bool("service", false, "omit timestamps from log lines (journald adds them)")
		mock        = flag.Bool("mock", false, "use a mock panel instead of the SPI device")
		addr        = flag.String("addr", "", "status HTTP listen address (overrides http.addr)")
	)
	flag.Parse()

	setupLogging(*verbose, *service)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("configuration error", "path", *cfgPath, "err", err)
	}
	layout, err := config.LoadLayout(*layoutPath)
	if err != nil {
		fatal("layout error", "path", *layoutPath, "err", err)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	root, err := filepath.Abs(filepath.Dir(*cfgPath))
	if err != nil {
		fatal("cannot resolve project root", "err", err)
	}
	cfg.GoogleCalendar.CredentialsFile = relTo(root, cfg.GoogleCalendar.CredentialsFile)
	cfg.GoogleCalendar.TokenFile = relTo(root, cfg.GoogleCalendar.TokenFile)
	flipDisplay := *flip || cfg.FlipDisplay

	// Cache directory and assets
	cacheDir := config.CacheDir(cfg.CacheDirName, root)
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		fatal("cannot create cache directory", "path", cacheDir, "err", err)
	}
	runtimeAssets := filepath.Join(cacheDir, "assets")
	if err := assets.Sync(relTo(root, cfg.Assets.Root), runtimeAssets); err != nil {
		fatal("asset sync failed", "err", err)
	}
	paths := assets.Resolve(runtimeAssets, cfg.Assets)
	if err := assets.Verify(paths); err != nil {
		fatal("required assets missing", "err", err)
	}
	slog.Info("inkdash starting", "version", version, "cache", cacheDir, "mock", *mock, "flip", flipDisplay)

	// Panel
	var dev epd.Device
	if *mock {
		slog.Info("using mock e-paper device")
		dev = epd.NewMock()
	} else {
		w, err := epd.OpenWaveshare7in5V2(epd.DefaultPins)
		if err != nil {
			fatal("e-paper device unavailable", "err", err)
		}
		defer w.Close()
		dev = w
	}
	var hw sync.Mutex
	adapter := display.New(dev, &hw, cacheDir)

	// State
	store := snapshot.New(cacheDir)
	sched := freshness.New(store, cfg.Intervals())
	sched.Load()
	guard := ratelimit.New(cacheDir, cfg.RateLimitCooldown)
	bus := events.NewBus()

	// Rendering
	fonts, err := render.LoadFonts(paths)
	if err != nil {
		slog.Warn("some fonts failed to load, using fallbacks", "err", err)
	}
	comp := render.New(layout, render.Options{
		Bounds:      dev.Bounds(),
		BiColor:     dev.BiColor(),
		Fonts:       fonts,
		Icons:       render.NewIconCache(filepath.Join(cacheDir, "icon_cache")),
		Assets:      paths,
		MaxUpcoming: cfg.GoogleCalendar.MaxUpcomingEvents,
		Location:    cfg.Zone(),
	})

	// Data sources
	srcs := []sources.Source{
		sources.NewClock(store, cfg.Zone()),
		sources.NewAirly(store, cfg),
		sources.NewAccuWeather(store, cfg),
		sources.NewCalendar(store, cfg, sources.GoogleDialer(cfg.GoogleCalendar.CredentialsFile, cfg.GoogleCalendar.TokenFile)),
	}

	var pub dashboard.Publisher
	if cfg.MQTT.Broker != "" {
		m := publish.NewMQTT(cfg.MQTT)
		if err := m.Connect(context.Background()); err != nil {
			slog.Warn("mqtt unavailable, will keep retrying in the background", "err", err)
		}
		defer m.Close()
		pub = m
	}

	dash := dashboard.New(dashboard.Options{
		Store:       store,
		Scheduler:   sched,
		Guard:       guard,
		Sources:     srcs,
		Merger:      sources.NewWeatherMerger(store, cfg),
		Compositor:  comp,
		Display:     adapter,
		Bus:         bus,
		Publisher:   pub,
		Location:    cfg.Zone(),
		Flip:        flipDisplay,
		DrawBorders: *drawBorders,
	})

	if cfg.GoogleCalendar.TokenFile != "" {
		tw, err := sources.WatchToken(cfg.GoogleCalendar.TokenFile, func() {
			slog.Info("calendar token changed, forcing a calendar refresh")
			dash.Force(models.SourceCalendar)
		})
		if err != nil {
			slog.Warn("cannot watch calendar token", "err", err)
		} else {
			defer tw.Close()
		}
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	screen := dashboard.ScreenSplash
	switch {
	case *egg:
		screen = dashboard.ScreenEasterEgg
	case *noSplash:
		screen = dashboard.ScreenNone
	}
	res := dash.ColdStart(ctx, screen)
	slog.Info("cold start complete", "sources", res)

	// Jobs run on their own context so a signal lets the current body finish.
	clock, err := jobs.New(context.Background(), cfg.Zone(), cfg.DeepHour(), dash, bus)
	if err != nil {
		fatal("job clock error", "err", err)
	}
	clock.Start()

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		mon := host.NewMonitor(version)
		go mon.Run(ctx)
		srv = startHTTP(ctx, cfg.HTTP, dash, clock, bus, mon)
	}

	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), time.Minute)
	defer shutCancel()
	if err := clock.Stop(shutCtx); err != nil {
		slog.Warn("job clock stop error", "err", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("server shutdown error", "err", err)
		}
	}
	dash.Shutdown(shutCtx)

	slog.Info("shutdown complete")
}

func startHTTP(ctx context.Context, cfg config.HTTP, dash *dashboard.Dashboard, clock *jobs.Clock, bus *events.Bus, mon *host.Monitor) *http.Server {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(dash, clock, bus, mon),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
		// SSE streams end when the daemon is signalled.
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.Info("status server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
		}
	}()

	if cfg.Advertise {
		port, err := zeroconf.PortFromAddr(cfg.Addr)
		if err != nil {
			slog.Warn("not advertising status server", "err", err)
			return srv
		}
		zc := zeroconf.New(host.Hostname(), port, version)
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}
	return srv
}

func setupLogging(verbose, service bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if service {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

func fatal(msg string, args ...any) {
	slog.Error(msg, append(args, "fatal", true)...)
	os.Exit(1)
}

func relTo(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
