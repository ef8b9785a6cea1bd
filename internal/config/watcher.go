package config

import (
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the watcher waits after the last filesystem
// event before reloading. Editors and atomic saves emit several events per
// write.
const reloadDebounce = 100 * time.Millisecond

// OnReload is called after a successful hot-reload with the previous and the
// freshly loaded config.
type OnReload func(old, new *Config)

// Watcher reloads the config file when it changes on disk. Reloads go
// through Load, so a broken edit is rejected and the previous config stays
// active.
type Watcher struct {
	fsw      *fsnotify.Watcher
	filePath string
	done     chan struct{}

	mu        sync.Mutex
	callbacks []OnReload
}

// Watch starts watching filePath for changes.
func Watch(filePath string) (*Watcher, error) {
	if filePath == "" {
		return nil, fmt.Errorf("config watcher: no file path given")
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("config watcher: resolving %s: %w", filePath, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}

	// Watch the parent directory. Atomic saves replace the file's inode, and
	// a watch on the old inode goes quiet after the first save.
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config watcher: watching %s: %w", filepath.Dir(absPath), err)
	}

	w := &Watcher{
		fsw:      fsw,
		filePath: absPath,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// OnChange registers fn to run after each successful reload. It is safe to
// call from multiple goroutines.
func (w *Watcher) OnChange(fn OnReload) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Close stops the event loop and the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[config watcher] fsnotify error: %v", err)
		}
	}
}

// relevant reports whether event is a write, create, or rename of the
// watched file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.filePath {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	old := Get()
	next, err := Load(w.filePath)
	if err != nil {
		log.Printf("[config watcher] reload rejected, keeping previous config: %v", err)
		return
	}
	log.Printf("[config watcher] loaded new config from %s", w.filePath)

	w.mu.Lock()
	cbs := slices.Clone(w.callbacks)
	w.mu.Unlock()

	for _, cb := range cbs {
		notify(cb, old, next)
	}
}

// notify isolates callback panics so one bad consumer cannot kill the
// watcher goroutine.
func notify(cb OnReload, old, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[config watcher] callback panicked: %v", r)
		}
	}()
	cb(old, next)
}
