// Command inkdash-render composes a dashboard frame from cached snapshot
// documents and writes it as a PNG, without touching the panel. It is meant
// for layout work on a desktop machine.
package main

import (
	"flag"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"

	"github.com/brianhealey/inkdash/internal/assets"
	"github.com/brianhealey/inkdash/internal/config"
	"github.com/brianhealey/inkdash/internal/epd"
	"github.com/brianhealey/inkdash/internal/render"
	"github.com/brianhealey/inkdash/internal/snapshot"
)

func main() {
	var (
		cfgPath    = flag.String("config", "config.yaml", "application config file")
		layoutPath = flag.String("layout", "layout.yaml", "panel layout file")
		cacheDir   = flag.String("cache", "", "snapshot directory (default: the daemon's cache dir)")
		out        = flag.String("out", "frame.png", "output PNG path")
		biColor    = flag.Bool("bicolor", false, "render a black/red frame")
		borders    = flag.Bool("draw-borders", false, "outline every panel")
		screen     = flag.String("screen", "dashboard", "what to render: dashboard, splash or 2137")
		at         = flag.String("at", "", "render as of this RFC3339 time (default: now)")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal("configuration error", "err", err)
	}
	layout, err := config.LoadLayout(*layoutPath)
	if err != nil {
		fatal("layout error", "err", err)
	}
	root, err := filepath.Abs(filepath.Dir(*cfgPath))
	if err != nil {
		fatal("cannot resolve project root", "err", err)
	}
	if *cacheDir == "" {
		*cacheDir = config.CacheDir(cfg.CacheDirName, root)
	}

	now := time.Now()
	if *at != "" {
		now, err = time.Parse(time.RFC3339, *at)
		if err != nil {
			fatal("invalid --at", "err", err)
		}
	}

	// Read assets straight from the project; no sync is needed offline.
	assetRoot := cfg.Assets.Root
	if !filepath.IsAbs(assetRoot) {
		assetRoot = filepath.Join(root, assetRoot)
	}
	paths := assets.Resolve(assetRoot, cfg.Assets)
	if err := assets.Verify(paths); err != nil {
		slog.Warn("some assets are missing, output will use fallbacks", "err", err)
	}
	fonts, err := render.LoadFonts(paths)
	if err != nil {
		slog.Warn("some fonts failed to load, using fallbacks", "err", err)
	}

	iconDir, err := os.MkdirTemp("", "inkdash-icons-")
	if err != nil {
		fatal("cannot create icon cache", "err", err)
	}
	defer os.RemoveAll(iconDir)

	comp := render.New(layout, render.Options{
		Bounds:      image.Rect(0, 0, epd.Width, epd.Height),
		BiColor:     *biColor,
		Fonts:       fonts,
		Icons:       render.NewIconCache(iconDir),
		Assets:      paths,
		MaxUpcoming: cfg.GoogleCalendar.MaxUpcomingEvents,
		Location:    cfg.Zone(),
		Now:         func() time.Time { return now },
	})

	var frame *render.Frame
	switch *screen {
	case "dashboard":
		frame = comp.Compose(render.LoadSnapshots(snapshot.New(*cacheDir)), *borders)
	case "splash":
		frame = comp.Splash()
	case "2137":
		frame, err = comp.EasterEgg()
		if err != nil {
			fatal("easter egg failed", "err", err)
		}
	default:
		fatal("unknown --screen", "screen", *screen)
	}

	if err := imaging.Save(render.Preview(frame), *out); err != nil {
		fatal("cannot write frame", "path", *out, "err", err)
	}
	slog.Info("frame written", "path", *out, "snapshots", *cacheDir)
}

func fatal(msg string, args ...any) {
	slog.Error(msg, append(args, "fatal", true)...)
	os.Exit(1)
}
