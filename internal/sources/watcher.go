package sources

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TokenWatcher calls onChange whenever the calendar token file is written,
// created or renamed into place, e.g. after the authorization tool was run.
type TokenWatcher struct {
	path     string
	onChange func()
	watcher  *fsnotify.Watcher
	done     chan struct{}
	once     sync.Once
}

// WatchToken starts watching path. The parent directory is watched so that
// atomic replacements are seen.
func WatchToken(path string, onChange func()) (*TokenWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("token watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("token watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	tw := &TokenWatcher{path: abs, onChange: onChange, watcher: w, done: make(chan struct{})}
	go tw.loop()
	slog.Info("calendar: watching token file", "path", abs)
	return tw, nil
}

// Close stops the watcher and waits for its goroutine.
func (tw *TokenWatcher) Close() {
	tw.once.Do(func() {
		tw.watcher.Close()
		<-tw.done
	})
}

func (tw *TokenWatcher) loop() {
	defer close(tw.done)
	for {
		select {
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != tw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				slog.Info("calendar: token file changed", "op", event.Op.String())
				tw.onChange()
			}
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("calendar: token watcher error", "err", err)
		}
	}
}
