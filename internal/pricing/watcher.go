package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a tiers file into a Catalog when it changes on disk.
// A file that fails to load or validate is logged and the previous tiers stay.
type Watcher struct {
	path    string
	catalog *Catalog
	logger  *slog.Logger

	// OnReload is called after each reload attempt with its result
	OnReload func(err error)

	done chan struct{}
}

// NewWatcher creates a watcher for a local tiers file
func NewWatcher(path string, catalog *Catalog, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:    filepath.Clean(path),
		catalog: catalog,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start begins watching until ctx is canceled.
// The parent directory is watched so editors that replace the file are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("pricing: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("pricing: watch %s: %w", w.path, err)
	}

	go func() {
		defer close(w.done)
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != w.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.logger.Info("tiers file changed", "path", ev.Name, "op", ev.Op.String())
				w.reload(ctx)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("tiers watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Done is closed once the watch goroutine has exited
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) reload(ctx context.Context) {
	err := w.load(ctx)
	if err != nil {
		w.logger.Error("tiers reload failed, keeping previous tiers", "path", w.path, "error", err)
	} else {
		w.logger.Info("tiers reloaded",
			"path", w.path,
			"count", len(w.catalog.Tiers()),
			"default_tier", w.catalog.DefaultTier(),
		)
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}

func (w *Watcher) load(ctx context.Context) error {
	file, err := LoadTiers(ctx, w.path)
	if err != nil {
		return err
	}
	return w.catalog.Replace(file.DefaultTier, file.Tiers)
}
