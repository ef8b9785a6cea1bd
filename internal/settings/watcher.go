package settings

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay collapses the burst of filesystem events a single save
// produces into one reload.
const reloadDelay = 100 * time.Millisecond

// Watcher reloads the settings document when it changes on disk and hands
// the result to a reload hook. The daemon uses the hook to rebuild the
// screener service after keys or preferences are edited out of band, by
// the CLI or by hand.
type Watcher struct {
	fsw      *fsnotify.Watcher
	store    *Store
	path     string
	onReload func(AppSettings)
	done     chan struct{}
}

// Watch follows the store's document. onReload runs after every detected
// change with the freshly loaded settings; a nil hook only logs.
func Watch(store *Store, onReload func(AppSettings)) (*Watcher, error) {
	if store.Path() == "" {
		return nil, fmt.Errorf("settings watcher: empty document path")
	}
	path, err := filepath.Abs(store.Path())
	if err != nil {
		return nil, fmt.Errorf("settings watcher: resolving %q: %w", store.Path(), err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings watcher: %w", err)
	}

	// The store saves through a temp file plus rename, and the document may
	// not exist yet on first start, so follow the parent directory.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("settings watcher: watching %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		fsw:      fsw,
		store:    store,
		path:     path,
		onReload: onReload,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watcher and releases its filesystem handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.isSave(event) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDelay, w.reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("settings watcher: %v", err)
		}
	}
}

// isSave reports whether event plausibly rewrote the settings document.
func (w *Watcher) isSave(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename)
}

func (w *Watcher) reload() {
	loaded := w.store.Load()
	log.Printf("settings watcher: reloaded %s", w.path)

	if w.onReload == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("settings watcher: reload hook panicked: %v", r)
		}
	}()
	w.onReload(loaded)
}
