package rules

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CatalogWatcher invalidates the catalog cache when the file changes on disk,
// so long-running processes pick up new ruleset versions without a restart.
// Idempotency is still keyed by ruleset_version, so a reloaded catalog with
// the same version remains a no-op for already-evaluated intakes.
type CatalogWatcher struct {
	watcher     *fsnotify.Watcher
	path        string
	logger      *zap.Logger
	debounceDur time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// WatchCatalog starts watching the catalog file. Close releases the watcher.
func WatchCatalog(path string, logger *zap.Logger) (*CatalogWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops
	// watches on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	cw := &CatalogWatcher{
		watcher:     watcher,
		path:        abs,
		logger:      logger,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go cw.loop()
	return cw, nil
}

// loop debounces on the trailing edge: each event resets the timer and the
// cache is invalidated once the file has been quiet for the debounce window.
// This way a Load racing the middle of a save burst cannot pin stale content;
// the last write always triggers an invalidation after it.
func (cw *CatalogWatcher) loop() {
	defer close(cw.doneCh)

	timer := time.NewTimer(cw.debounceDur)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-cw.stopCh:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(cw.debounceDur)
		case <-timer.C:
			Invalidate(cw.path)
			cw.logger.Info("rule catalog changed, cache invalidated", zap.String("path", cw.path))
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher and waits for the loop to exit.
func (cw *CatalogWatcher) Close() error {
	close(cw.stopCh)
	err := cw.watcher.Close()
	<-cw.doneCh
	return err
}
