// Package watcher feeds on-disk edits of imported modules into the
// scheduler. Only modules that resolve from search paths matter here; open
// editor buffers shadow disk and are handled by the protocol layer.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/tliron/commonlog"

	"msls/internal/shared/observability"
)

const fileExtension = ".msl"

// Sink receives batched, debounced file events.
type Sink interface {
	FileChanged(path string)
	FileRemoved(path string)
}

type Watcher struct {
	fsWatcher   *fsnotify.Watcher
	debounce    time.Duration
	excludeDirs []glob.Glob
	sink        Sink
	log         commonlog.Logger

	pendingMu sync.Mutex
	changed   map[string]bool
	removed   map[string]bool
	timer     *time.Timer
}

func New(debounce time.Duration, excludeDirs []string, sink Sink) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsw,
		debounce:  debounce,
		sink:      sink,
		log:       commonlog.GetLogger("msls.watcher"),
		changed:   make(map[string]bool),
		removed:   make(map[string]bool),
	}

	for _, pattern := range excludeDirs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, err
		}
		w.excludeDirs = append(w.excludeDirs, g)
	}

	return w, nil
}

// Watch starts watching every search path recursively.
func (w *Watcher) Watch(paths []string) error {
	for _, path := range paths {
		if err := w.watchRecursive(path); err != nil {
			return err
		}
	}

	go w.run()
	return nil
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if w.shouldExcludeDir(path) {
				return filepath.SkipDir
			}
			return w.fsWatcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			observability.WatcherEventsTotal.Inc()

			if event.Op&fsnotify.Create == fsnotify.Create {
				info, err := os.Stat(event.Name)
				if err == nil && info.IsDir() {
					if !w.shouldExcludeDir(event.Name) {
						if err := w.watchRecursive(event.Name); err != nil {
							w.log.Warningf("failed to watch new directory %s: %v", event.Name, err)
						} else {
							w.enqueueExistingFiles(event.Name)
						}
					}
					continue
				}
			}

			if !strings.HasSuffix(event.Name, fileExtension) {
				continue
			}

			switch {
			case event.Op&fsnotify.Remove == fsnotify.Remove || event.Op&fsnotify.Rename == fsnotify.Rename:
				w.schedule(event.Name, true)
			case event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create:
				w.schedule(event.Name, false)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule(path string, removed bool) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if removed {
		w.removed[path] = true
		delete(w.changed, path)
	} else {
		w.changed[path] = true
		delete(w.removed, path)
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.pendingMu.Lock()
	changed := make([]string, 0, len(w.changed))
	for path := range w.changed {
		changed = append(changed, path)
	}
	removed := make([]string, 0, len(w.removed))
	for path := range w.removed {
		removed = append(removed, path)
	}
	w.changed = make(map[string]bool)
	w.removed = make(map[string]bool)
	w.pendingMu.Unlock()

	for _, path := range changed {
		w.sink.FileChanged(path)
	}
	for _, path := range removed {
		w.sink.FileRemoved(path)
	}
}

func (w *Watcher) shouldExcludeDir(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.excludeDirs {
		if g.Match(base) {
			return true
		}
	}
	return false
}

func (w *Watcher) enqueueExistingFiles(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, fileExtension) {
			w.schedule(path, false)
		}
		return nil
	})
}

func (w *Watcher) Close() error {
	w.pendingMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pendingMu.Unlock()
	return w.fsWatcher.Close()
}
