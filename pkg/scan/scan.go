// Package scan runs the antipattern registry over files on disk.
//
// The registry itself never touches the filesystem; this package reads
// files, selects them with an ignore.Matcher, bounds concurrency and
// returns one FileReport per file in path order.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/ignore"
)

// DefaultMaxFileSize skips generated or vendored files too large to be
// hand-written Apex.
const DefaultMaxFileSize = 2 << 20

// FileReport is the scan outcome for one file: one result per registered
// rule, in registration order.
type FileReport struct {
	Path      string               `json:"path,omitempty"`
	ClassName string               `json:"class"`
	Results   []antipattern.Result `json:"results"`
	// Error is set when the file could not be read. Results is empty then.
	Error string `json:"error,omitempty"`
}

// FindingCount returns the number of findings across all rules.
func (r FileReport) FindingCount() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Findings)
	}
	return n
}

// FailedRules lists the rules that failed softly on this file.
func (r FileReport) FailedRules() []antipattern.Kind {
	var out []antipattern.Kind
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res.Kind)
		}
	}
	return out
}

// Filter returns a copy of the report keeping only findings at or above
// min. Every result is kept, so remediation text stays available.
func (r FileReport) Filter(min antipattern.Severity) FileReport {
	out := r
	out.Results = make([]antipattern.Result, len(r.Results))
	for i, res := range r.Results {
		kept := make([]antipattern.Finding, 0, len(res.Findings))
		for _, f := range res.Findings {
			if f.Severity >= min {
				kept = append(kept, f)
			}
		}
		res.Findings = kept
		out.Results[i] = res
	}
	return out
}

// Scanner scans sources against a registry. It is safe for concurrent use
// once constructed.
type Scanner struct {
	registry    *antipattern.Registry
	matcher     *ignore.Matcher
	concurrency int
	maxFileSize int64
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMatcher sets the file selection rules used when walking directories.
func WithMatcher(m *ignore.Matcher) Option {
	return func(s *Scanner) {
		if m != nil {
			s.matcher = m
		}
	}
}

// WithConcurrency bounds the number of files scanned at once.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithMaxFileSize sets the largest file that is scanned, in bytes.
func WithMaxFileSize(n int64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// New creates a Scanner for a read-only registry.
func New(registry *antipattern.Registry, opts ...Option) *Scanner {
	s := &Scanner{
		registry:    registry,
		concurrency: runtime.GOMAXPROCS(0),
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.matcher == nil {
		s.matcher, _ = ignore.NewFromDefaults(nil)
	}
	return s
}

// Registry returns the registry the scanner runs.
func (s *Scanner) Registry() *antipattern.Registry { return s.registry }

// Matcher returns the file selection rules.
func (s *Scanner) Matcher() *ignore.Matcher { return s.matcher }

// ScanSource scans in-memory source text.
func (s *Scanner) ScanSource(className, source string) FileReport {
	return FileReport{
		ClassName: className,
		Results:   s.registry.ScanAll(className, source),
	}
}

// ScanFile reads and scans one file. Read failures are reported on the
// FileReport, not returned.
func (s *Scanner) ScanFile(path string) FileReport {
	rep := FileReport{Path: path, ClassName: ClassName(path), Results: []antipattern.Result{}}

	info, err := os.Stat(path)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	if info.Size() > s.maxFileSize {
		rep.Error = fmt.Sprintf("file too large (%d bytes, limit %d)", info.Size(), s.maxFileSize)
		return rep
	}
	data, err := os.ReadFile(path)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}

	rep.Results = s.registry.ScanAll(rep.ClassName, string(data))
	return rep
}

// Collect expands paths into the sorted, de-duplicated list of files to
// scan. Directories are walked with the scanner's matcher; files named
// explicitly are always kept.
func (s *Scanner) Collect(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("scan path %s: %w", root, err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		skip := s.matcher.WalkFunc(root)
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logging.Named("scan").Debugw("walk error", "path", path, "error", err)
				return nil
			}
			if path == root {
				return nil
			}
			skipFile, skipDir := skip(path, d.IsDir())
			switch {
			case skipDir:
				return filepath.SkipDir
			case skipFile || d.IsDir():
				return nil
			}
			add(path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}

	slices.Sort(files)
	return files, nil
}

// ScanPaths scans every file under paths with bounded concurrency. One
// failing file never stops the others; the returned error is only for
// cancellation or an unreadable root. Reports are ordered by path.
func (s *Scanner) ScanPaths(ctx context.Context, paths []string) ([]FileReport, error) {
	files, err := s.Collect(paths)
	if err != nil {
		return nil, err
	}
	return s.ScanFiles(ctx, files)
}

// ScanFiles scans the given files in order.
func (s *Scanner) ScanFiles(ctx context.Context, files []string) ([]FileReport, error) {
	start := time.Now()
	reports := make([]FileReport, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			reports[i] = s.ScanFile(f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sum := Summarize(reports)
	logging.Named("scan").Infow("scan complete",
		"files", sum.Files, "findings", sum.Findings, "failures", sum.Failures,
		"duration", time.Since(start).Round(time.Millisecond))
	return reports, nil
}

// ScanChanged scans the Apex files that git reports as changed in the
// repository containing root.
func (s *Scanner) ScanChanged(ctx context.Context, root string) ([]FileReport, error) {
	repoRoot, changed, err := ChangedFiles(root)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range changed {
		rel, err := filepath.Rel(repoRoot, f)
		if err != nil {
			continue
		}
		if s.matcher.Accept(rel) {
			files = append(files, f)
		}
	}
	return s.ScanFiles(ctx, files)
}

// ClassName derives the class identifier from a file path: the base name
// without its extension.
func ClassName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Summary aggregates a set of reports.
type Summary struct {
	Files             int                          `json:"files"`
	FilesWithFindings int                          `json:"files_with_findings"`
	Findings          int                          `json:"findings"`
	Failures          int                          `json:"failures"`
	BySeverity        map[antipattern.Severity]int `json:"by_severity"`
	ByKind            map[antipattern.Kind]int     `json:"by_kind"`
}

// Summarize counts findings by severity and rule. Unreadable files and
// soft rule failures both count as failures.
func Summarize(reports []FileReport) Summary {
	sum := Summary{
		Files:      len(reports),
		BySeverity: make(map[antipattern.Severity]int),
		ByKind:     make(map[antipattern.Kind]int),
	}
	for _, rep := range reports {
		if rep.Error != "" {
			sum.Failures++
		}
		n := 0
		for _, res := range rep.Results {
			if res.Err != nil {
				sum.Failures++
			}
			for _, f := range res.Findings {
				sum.BySeverity[f.Severity]++
				sum.ByKind[res.Kind]++
				n++
			}
		}
		if n > 0 {
			sum.FilesWithFindings++
		}
		sum.Findings += n
	}
	return sum
}
