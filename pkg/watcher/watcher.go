// Package watcher reports batches of changed Apex files under a project
// root. Events are debounced so an editor save or a git checkout produces
// one batch instead of a burst.
package watcher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/pkg/ignore"
)

// DefaultDebounce is how long the watcher waits for events to settle.
const DefaultDebounce = time.Second

// Config configures a Watcher.
type Config struct {
	// Root is the project root. Ignore rules are matched against paths
	// relative to it. Defaults to the working directory.
	Root string
	// Paths are the directories to watch, defaulting to Root.
	Paths    []string
	Debounce time.Duration
	// Matcher selects the directories to watch and the files to report.
	// Defaults to ignore.NewFromDefaults.
	Matcher *ignore.Matcher
}

// FileChangeHandler receives settled changes keyed by absolute path. The op
// is fsnotify.Remove when the file is gone at flush time and
// fsnotify.Write otherwise.
type FileChangeHandler interface {
	OnChanges(files map[string]fsnotify.Op)
}

// FileChangeHandlerFunc adapts a function to FileChangeHandler.
type FileChangeHandlerFunc func(files map[string]fsnotify.Op)

func (f FileChangeHandlerFunc) OnChanges(files map[string]fsnotify.Op) { f(files) }

// Stats is a snapshot of watcher state.
type Stats struct {
	Paths        []string      `json:"paths"`
	DirsWatched  int           `json:"dirs_watched"`
	Debounce     time.Duration `json:"debounce"`
	PendingFiles int           `json:"pending_files"`
	Batches      int           `json:"batches"`
	Uptime       time.Duration `json:"uptime"`
}

// Watcher watches directory trees and forwards debounced changes to its
// handlers.
type Watcher struct {
	fsw      *fsnotify.Watcher
	config   Config
	handlers []FileChangeHandler

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  time.Time

	mu          sync.Mutex
	pending     map[string]fsnotify.Op
	dirsWatched int
	batches     int
}

// New creates a Watcher. It does not watch anything until Start.
func New(config Config, handlers ...FileChangeHandler) (*Watcher, error) {
	if config.Root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		config.Root = cwd
	}
	if len(config.Paths) == 0 {
		config.Paths = []string{config.Root}
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Matcher == nil {
		m, err := ignore.NewFromDefaults(nil)
		if err != nil {
			return nil, err
		}
		config.Matcher = m
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsw:      fsw,
		config:   config,
		handlers: handlers,
		stop:     make(chan struct{}),
		pending:  make(map[string]fsnotify.Op),
	}, nil
}

// AddHandler registers another handler. Call it before Start.
func (w *Watcher) AddHandler(h FileChangeHandler) {
	w.handlers = append(w.handlers, h)
}

// Start adds every non-ignored directory under the configured paths and
// begins processing events.
func (w *Watcher) Start() error {
	for _, root := range w.config.Paths {
		if err := w.addTree(root); err != nil {
			return err
		}
	}

	w.started = time.Now()
	w.wg.Add(1)
	go w.processEvents()

	logging.Named("watcher").Infow("watching",
		"dirs", w.dirs(), "paths", w.config.Paths, "debounce", w.config.Debounce)
	return nil
}

// Stop ends event processing, drops pending changes and closes the
// underlying watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	return w.fsw.Close()
}

// Stats returns a snapshot of the watcher state.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	var uptime time.Duration
	if !w.started.IsZero() {
		uptime = time.Since(w.started)
	}
	return Stats{
		Paths:        w.config.Paths,
		DirsWatched:  w.dirsWatched,
		Debounce:     w.config.Debounce,
		PendingFiles: len(w.pending),
		Batches:      w.batches,
		Uptime:       uptime,
	}
}

func (w *Watcher) dirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirsWatched
}

func (w *Watcher) rel(path string) string {
	if r, err := filepath.Rel(w.config.Root, path); err == nil {
		return r
	}
	return path
}

// addTree watches root and every directory below it that is not ignored.
func (w *Watcher) addTree(root string) error {
	log := logging.Named("watcher")
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Debugw("walk error", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.config.Matcher.ShouldIgnore(w.rel(path), true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			log.Debugw("cannot watch directory", "path", path, "error", err)
			return nil
		}
		w.mu.Lock()
		w.dirsWatched++
		w.mu.Unlock()
		return nil
	})
}

// processEvents owns the debounce timer: every queued change pushes the
// flush back by the debounce delay.
func (w *Watcher) processEvents() {
	defer w.wg.Done()
	log := logging.Named("watcher")

	timer := time.NewTimer(w.config.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return

		case <-timer.C:
			w.flush()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.handle(event) {
				timer.Reset(w.config.Debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn("event queue overflowed, some changes were missed")
				continue
			}
			log.Warnw("watch error", "error", err)
		}
	}
}

// handle reports whether the event queued anything.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.config.Matcher.ShouldIgnore(w.rel(event.Name), true) {
				return false
			}
			// Files written before the new directory was watched produce
			// no events of their own.
			if err := w.addTree(event.Name); err != nil {
				return false
			}
			return w.queueExisting(event.Name)
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	if !w.config.Matcher.Accept(w.rel(event.Name)) {
		return false
	}
	w.queue(event.Name, event.Op)
	return true
}

func (w *Watcher) queueExisting(dir string) bool {
	queued := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.config.Matcher.Accept(w.rel(path)) {
			w.queue(path, fsnotify.Create)
			queued = true
		}
		return nil
	})
	return queued
}

func (w *Watcher) queue(path string, op fsnotify.Op) {
	w.mu.Lock()
	w.pending[path] |= op
	w.mu.Unlock()
}

// flush hands the settled batch to every handler. Ops are collapsed by
// checking whether each file still exists.
func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]fsnotify.Op)
	if len(pending) > 0 {
		w.batches++
	}
	w.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	batch := make(map[string]fsnotify.Op, len(pending))
	for path := range pending {
		if _, err := os.Stat(path); err != nil {
			batch[path] = fsnotify.Remove
		} else {
			batch[path] = fsnotify.Write
		}
	}

	logging.Named("watcher").Debugw("processing file changes", "files", len(batch))
	for _, h := range w.handlers {
		h.OnChanges(batch)
	}
}
