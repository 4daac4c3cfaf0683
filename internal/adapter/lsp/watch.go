package lsp

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// docWatcher watches the parent directories of open documents and reports
// writes to those documents.
type docWatcher struct {
	w        *fsnotify.Watcher
	onChange func(path string)

	mu    sync.Mutex
	dirs  map[string]bool
	files map[string]bool

	done chan struct{}
	once sync.Once
}

func newDocWatcher(onChange func(path string)) (*docWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	d := &docWatcher{
		w:        w,
		onChange: onChange,
		dirs:     make(map[string]bool),
		files:    make(map[string]bool),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d, nil
}

// Add starts reporting changes to path.
func (d *docWatcher) Add(path string) error {
	dir := filepath.Dir(path)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[path] = true
	if d.dirs[dir] {
		return nil
	}
	if err := d.w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	d.dirs[dir] = true
	return nil
}

func (d *docWatcher) watched(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.files[path]
}

func (d *docWatcher) loop() {
	for {
		select {
		case ev, ok := <-d.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if d.watched(ev.Name) {
				d.onChange(ev.Name)
			}
		case err, ok := <-d.w.Errors:
			if !ok {
				return
			}
			slog.Debug("lsp document watcher error", "error", err)
		case <-d.done:
			return
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (d *docWatcher) Close() {
	d.once.Do(func() {
		close(d.done)
		_ = d.w.Close()
	})
}
