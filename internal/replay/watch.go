// Archive live-reload.
//
// DESIGN: Watch the parent directory rather than the file itself; editors and
// exporters replace archive files atomically, which drops an inode-level
// watch. Rapid write bursts are debounced before the store is reloaded in one
// transaction, so in-flight lookups see either the old or the new snapshot.
package replay

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/harbinger-dev/harbinger/internal/archive"
	"github.com/harbinger-dev/harbinger/internal/har"
)

const reloadDebounce = 500 * time.Millisecond

// WatchArchive reloads store from harPath whenever the file changes. Blocks
// until ctx is cancelled.
func WatchArchive(ctx context.Context, store *archive.Store, harPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(harPath)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(harPath)
	log.Info().Str("path", target).Msg("watching archive for changes")

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("archive watcher error")

		case <-reload:
			a, err := har.Read(harPath)
			if err != nil {
				log.Error().Err(err).Str("path", harPath).Msg("archive reload failed, keeping previous snapshot")
				continue
			}
			n, err := store.Load(a)
			if err != nil {
				log.Error().Err(err).Msg("archive reindex failed")
				continue
			}
			log.Info().Int("entries", n).Str("path", harPath).Msg("archive reloaded")
		}
	}
}
