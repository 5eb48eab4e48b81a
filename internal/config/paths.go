package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ramDirs are tried in order for the cache directory so frequent snapshot
// writes do not wear the SD card.
var ramDirs = []string{"/dev/shm", "/tmp"}

// CacheDir returns the runtime cache directory for name. It prefers a
// writable RAM-backed directory and falls back to ./tmp under fallbackRoot.
func CacheDir(name, fallbackRoot string) string {
	return cacheDirFrom(ramDirs, name, fallbackRoot)
}

func cacheDirFrom(candidates []string, name, fallbackRoot string) string {
	for _, dir := range candidates {
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			continue
		}
		if unix.Access(dir, unix.W_OK) == nil {
			slog.Debug("config: using RAM cache base", "dir", dir)
			return filepath.Join(dir, name)
		}
	}
	fallback := filepath.Join(fallbackRoot, "tmp")
	slog.Warn("config: no RAM-backed directory available, using fallback", "dir", fallback)
	return filepath.Join(fallback, name)
}
