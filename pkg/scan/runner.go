package scan

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmylchreest/apexlens/internal/logging"
)

// Runner defaults.
const (
	DefaultRunnerConcurrency = 8
	DefaultRunnerStopTimeout = 10 * time.Second
)

// ReportStore persists per-file scan results. SaveReport replaces every
// stored finding for the report's path.
type ReportStore interface {
	SaveReport(rep FileReport) error
	RemoveFile(path string) error
}

// RunnerStatus is a snapshot of the Runner's activity.
type RunnerStatus struct {
	Running      int           `json:"running"`
	Scans        int           `json:"scans"`
	LastFile     string        `json:"last_file,omitempty"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration"`
	LastFindings int           `json:"last_findings"`
	LastError    string        `json:"last_error,omitempty"`
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	id     int64
}

// Runner rescans files in the background as they change and writes the
// results to a ReportStore. A new change to a file cancels the scan still
// running for it.
type Runner struct {
	scanner *Scanner
	store   ReportStore
	root    string

	mu       sync.Mutex
	runs     map[string]*activeRun
	status   RunnerStatus
	runIDGen int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    chan struct{}
}

// NewRunner creates a Runner. root is the project root that file paths
// are matched against.
func NewRunner(scanner *Scanner, store ReportStore, root string) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		scanner: scanner,
		store:   store,
		root:    root,
		runs:    make(map[string]*activeRun),
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, DefaultRunnerConcurrency),
	}
}

// OnChanges implements watcher.FileChangeHandler.
func (r *Runner) OnChanges(files map[string]fsnotify.Op) {
	log := logging.Named("scan")
	for file, op := range files {
		rel := file
		if r.root != "" {
			if p, err := filepath.Rel(r.root, file); err == nil {
				rel = p
			}
		}
		if !r.scanner.matcher.Accept(rel) {
			continue
		}

		if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			if err := r.store.RemoveFile(file); err != nil {
				log.Warnw("removing findings failed", "file", file, "error", err)
			}
			continue
		}
		r.rescan(file)
	}
}

// Rescan schedules a scan of every file under paths.
func (r *Runner) Rescan(paths []string) error {
	files, err := r.scanner.Collect(paths)
	if err != nil {
		return err
	}
	for _, f := range files {
		r.rescan(f)
	}
	return nil
}

func (r *Runner) rescan(file string) {
	log := logging.Named("scan")
	r.mu.Lock()
	if existing, ok := r.runs[file]; ok {
		existing.cancel()
		log.Debugw("cancelled existing scan", "file", file)
		r.mu.Unlock()
		<-existing.done
		r.mu.Lock()
	}

	ctx, cancel := context.WithCancel(r.ctx)
	done := make(chan struct{})
	r.runIDGen++
	runID := r.runIDGen
	r.runs[file] = &activeRun{cancel: cancel, done: done, id: runID}
	r.status.Running = len(r.runs)
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer close(done)
		defer r.wg.Done()
		defer cancel()
		defer func() {
			r.mu.Lock()
			if current, ok := r.runs[file]; ok && current.id == runID {
				delete(r.runs, file)
			}
			r.status.Running = len(r.runs)
			r.mu.Unlock()
		}()

		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-ctx.Done():
			return
		}

		start := time.Now()
		rep := r.scanner.ScanFile(file)
		if ctx.Err() != nil {
			log.Debugw("scan cancelled", "file", file)
			return
		}

		err := r.store.SaveReport(rep)
		r.record(file, rep, time.Since(start), err)
		if err != nil {
			log.Warnw("storing findings failed, keeping old findings", "file", file, "error", err)
			return
		}
		log.Infow("rescanned", "file", file, "findings", rep.FindingCount(), "duration", time.Since(start).Round(time.Millisecond))
	}()
}

func (r *Runner) record(file string, rep FileReport, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Scans++
	r.status.LastFile = file
	r.status.LastRun = time.Now()
	r.status.LastDuration = d
	r.status.LastFindings = rep.FindingCount()
	r.status.LastError = rep.Error
	if err != nil {
		r.status.LastError = err.Error()
	}
}

// Status returns a snapshot of the runner's activity.
func (r *Runner) Status() RunnerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// WaitAll blocks until every scheduled scan has finished.
func (r *Runner) WaitAll() {
	r.wg.Wait()
}

// Stop cancels running scans and waits for them, up to
// DefaultRunnerStopTimeout.
func (r *Runner) Stop() {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(DefaultRunnerStopTimeout):
		logging.Named("scan").Warn("timeout waiting for scans to stop")
	}
}
