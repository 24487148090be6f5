package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/pkg/scan"
	"github.com/jmylchreest/apexlens/pkg/store"
	"github.com/jmylchreest/apexlens/pkg/watcher"
)

// watchSession ties a watcher to a runner that rescans changed files into
// the store.
type watchSession struct {
	watcher *watcher.Watcher
	runner  *scan.Runner
}

// startWatch begins watching paths (the project root when empty). When
// initial is set every file is scanned once up front so the store starts
// in sync with the tree.
func startWatch(a *app, scanner *scan.Scanner, st *store.Store, paths []string, debounce time.Duration, initial bool) (*watchSession, error) {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		ap, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		abs = append(abs, ap)
	}
	if debounce <= 0 {
		debounce = a.cfg.Watch.Debounce
	}

	runner := scan.NewRunner(scanner, st, a.cfg.Root)
	w, err := watcher.New(watcher.Config{
		Root:     a.cfg.Root,
		Paths:    abs,
		Debounce: debounce,
		Matcher:  scanner.Matcher(),
	}, runner)
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("starting watcher: %w", err)
	}

	if initial {
		targets := abs
		if len(targets) == 0 {
			targets = []string{a.cfg.Root}
		}
		if err := runner.Rescan(targets); err != nil {
			_ = w.Stop()
			runner.Stop()
			return nil, fmt.Errorf("initial scan: %w", err)
		}
	}

	stats := w.Stats()
	logging.Named("watcher").Infow("watching for changes",
		"paths", stats.Paths, "dirs", stats.DirsWatched, "debounce", stats.Debounce)
	return &watchSession{watcher: w, runner: runner}, nil
}

func (s *watchSession) stop() {
	if err := s.watcher.Stop(); err != nil {
		logging.Named("watcher").Warnw("watcher stop error", "error", err)
	}
	s.runner.Stop()
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	var (
		debounce  time.Duration
		noInitial bool
	)
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Rescan Apex files into the findings store as they change",
		Long: `Watch the project and rescan each Apex file when it changes, replacing its
stored findings. Deleted files have their findings removed. Query the
results with "apexlens findings" or the MCP findings tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			scanner, err := a.scanner(ctx)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			session, err := startWatch(a, scanner, st, args, debounce, !noInitial)
			if err != nil {
				return err
			}
			<-ctx.Done()
			session.stop()

			status := session.runner.Status()
			fmt.Fprintf(cmd.ErrOrStderr(), "Stopped after %d scans.\n", status.Scans)
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "wait this long for changes to settle (default from config)")
	cmd.Flags().BoolVar(&noInitial, "no-initial", false, "skip the initial full scan")
	return cmd
}
