package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/internal/version"
	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/report"
	"github.com/jmylchreest/apexlens/pkg/scan"
)

type scanFlags struct {
	format      string
	minSeverity string
	failOn      string
	output      string
	changed     bool
	save        bool
}

func newScanCmd(g *globalFlags) *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Scan Apex files for antipatterns",
		Long: `Scan Apex classes and triggers and print a report.

Directories are walked using .apexlensignore and .gitignore rules. With no
paths the project root is scanned. --changed scans only files git reports
as modified or untracked.`,
		Example: `  apexlens scan
  apexlens scan force-app/main/default/classes --format table
  apexlens scan --changed --format sarif -o apexlens.sarif
  apexlens scan --min-severity major --fail-on critical`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			return runScan(cmd.Context(), a, f, args, cmd.OutOrStdout())
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.format, "format", "f", "", "output format: markdown, json, table or sarif (default from config)")
	fl.StringVar(&f.minSeverity, "min-severity", "", "lowest severity to report: minor, major or critical (default from config)")
	fl.StringVar(&f.failOn, "fail-on", "", "exit with status 1 when a finding reaches this severity")
	fl.StringVarP(&f.output, "output", "o", "", "write the report to a file instead of stdout")
	fl.BoolVar(&f.changed, "changed", false, "scan only files changed in the git worktree")
	fl.BoolVar(&f.save, "store", false, "save findings to the project findings store")
	return cmd
}

func runScan(ctx context.Context, a *app, f *scanFlags, paths []string, stdout io.Writer) error {
	formatName := f.format
	if formatName == "" {
		formatName = a.cfg.Report.Format
	}
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	minSev, err := a.cfg.MinSeverity()
	if err != nil {
		return err
	}
	if f.minSeverity != "" {
		if minSev, err = antipattern.ParseSeverity(f.minSeverity); err != nil {
			return err
		}
	}
	var failOn antipattern.Severity
	if f.failOn != "" {
		if failOn, err = antipattern.ParseSeverity(f.failOn); err != nil {
			return fmt.Errorf("--fail-on: %w", err)
		}
	}

	scanner, err := a.scanner(ctx)
	if err != nil {
		return err
	}

	var reports []scan.FileReport
	switch {
	case f.changed:
		if len(paths) > 0 {
			return fmt.Errorf("--changed does not take paths")
		}
		reports, err = scanner.ScanChanged(ctx, a.cfg.Root)
	case len(paths) == 0:
		reports, err = scanner.ScanPaths(ctx, []string{a.cfg.Root})
	default:
		reports, err = scanner.ScanPaths(ctx, paths)
	}
	if err != nil {
		return err
	}

	if f.save {
		if err := saveReports(a, reports); err != nil {
			return err
		}
	}

	w := stdout
	if f.output != "" {
		file, err := os.Create(f.output)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	opts := report.Options{MinSeverity: minSev, Root: a.cfg.Root, ToolVersion: version.Short()}
	if err := report.Write(w, format, reports, opts); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if failOn != 0 && reachesSeverity(reports, failOn) {
		return errThreshold
	}
	return nil
}

func saveReports(a *app, reports []scan.FileReport) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	log := logging.Named("store")
	for _, rep := range reports {
		if rep.Error != "" {
			continue
		}
		if err := st.SaveReport(rep); err != nil {
			return fmt.Errorf("saving %s: %w", rep.Path, err)
		}
	}
	log.Infow("findings saved", "files", len(reports), "dir", a.cfg.Store.Dir)
	return nil
}

// reachesSeverity reports whether any finding is at or above threshold.
func reachesSeverity(reports []scan.FileReport, threshold antipattern.Severity) bool {
	for _, rep := range reports {
		for _, res := range rep.Results {
			for _, f := range res.Findings {
				if f.Severity >= threshold {
					return true
				}
			}
		}
	}
	return false
}
