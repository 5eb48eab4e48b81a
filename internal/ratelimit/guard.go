// Package ratelimit remembers upstream quota rejections so a source is not
// queried again until a fixed cooldown has passed.
//
// Each source has a flag file, <source>_limit.flag, containing the RFC 3339
// time of the rejection. Files survive process restarts.
package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultCooldown is how long a source stays blocked after a rejection.
const DefaultCooldown = time.Hour

// Guard tracks per-source rate-limit flags in a directory.
type Guard struct {
	mu       sync.Mutex
	dir      string
	cooldown time.Duration
}

// New returns a guard storing flags in dir.
func New(dir string, cooldown time.Duration) *Guard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Guard{dir: dir, cooldown: cooldown}
}

// Cooldown returns the configured block window.
func (g *Guard) Cooldown() time.Duration { return g.cooldown }

func (g *Guard) flagPath(source string) string {
	return filepath.Join(g.dir, source+"_limit.flag")
}

// IsBlocked reports whether source is inside its cooldown window at now.
// Expired, unreadable and malformed flags are removed and count as not
// blocked.
func (g *Guard) IsBlocked(source string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	hit, err := g.read(source)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("ratelimit: discarding unreadable flag", "source", source, "err", err)
			g.remove(source)
		}
		return false
	}
	if now.Before(hit.Add(g.cooldown)) {
		return true
	}
	slog.Info("ratelimit: cooldown elapsed, clearing flag", "source", source, "since", hit)
	g.remove(source)
	return false
}

// BlockedUntil returns the end of the current cooldown, if any. It does not
// modify flags.
func (g *Guard) BlockedUntil(source string, now time.Time) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hit, err := g.read(source)
	if err != nil {
		return time.Time{}, false
	}
	until := hit.Add(g.cooldown)
	if !now.Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// RecordLimitHit starts the cooldown for source at now.
func (g *Guard) RecordLimitHit(source string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	path := g.flagPath(source)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(now.UTC().Format(time.RFC3339Nano)), 0644); err != nil {
		return fmt.Errorf("ratelimit: write flag: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("ratelimit: write flag: %w", err)
	}
	slog.Warn("ratelimit: source blocked", "source", source, "until", now.Add(g.cooldown).Format(time.RFC3339))
	return nil
}

func (g *Guard) read(source string) (time.Time, error) {
	data, err := os.ReadFile(g.flagPath(source))
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed flag: %w", err)
	}
	return t, nil
}

func (g *Guard) remove(source string) {
	if err := os.Remove(g.flagPath(source)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ratelimit: could not remove flag", "source", source, "err", err)
	}
}
