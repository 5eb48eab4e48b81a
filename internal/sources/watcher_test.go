package sources_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brianhealey/inkdash/internal/sources"
)

func TestTokenWatcher_NotifiesOnReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	changed := make(chan struct{}, 8)
	w, err := sources.WatchToken(path, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("WatchToken() error = %v", err)
	}
	t.Cleanup(w.Close)

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"token":"a"}`), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after token write")
	}
}
