package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harbinger-dev/harbinger/internal/archive"
	"github.com/harbinger-dev/harbinger/internal/har"
)

func writeArchiveFile(t *testing.T, path, host string) {
	t.Helper()
	doc := fmt.Sprintf(`{"log": {"version": "1.2", "entries": [
		{"request": {"method": "GET", "url": "https://%s/"},
		 "response": {"status": 200, "content": {"mimeType": "text/html", "text": "<html></html>"}}}
	]}}`, host)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
}

func TestWatchArchiveReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	harPath := filepath.Join(dir, "capture.har")
	writeArchiveFile(t, harPath, "old.example.com")

	store, err := archive.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- WatchArchive(ctx, store, harPath) }()

	// Give the watcher a moment to install before touching the file.
	time.Sleep(100 * time.Millisecond)
	writeArchiveFile(t, harPath, "new.example.com")

	require.Eventually(t, func() bool {
		_, err := store.Lookup("GET", "new.example.com", "/")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond, "store never picked up the rewritten archive")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatchArchiveKeepsSnapshotOnBadReload(t *testing.T) {
	dir := t.TempDir()
	harPath := filepath.Join(dir, "capture.har")
	writeArchiveFile(t, harPath, "good.example.com")

	store, err := archive.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	// Seed the store with the initial snapshot the way serve mode does.
	a, err := har.Read(harPath)
	require.NoError(t, err)
	_, err = store.Load(a)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = WatchArchive(ctx, store, harPath) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(harPath, []byte("not json"), 0o644))

	// The broken file must not wipe the previous snapshot; after the
	// debounce window the old entry is still served.
	time.Sleep(reloadDebounce + 500*time.Millisecond)
	_, err = store.Lookup("GET", "good.example.com", "/")
	require.NoError(t, err)
}
