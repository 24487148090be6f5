// Package report renders scan results. Markdown is written for a language
// model to read and act on: findings are grouped by rule and each rule's
// remediation appears once. JSON, table and SARIF serve tools and people.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/scan"
)

// Format names an output format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatTable    Format = "table"
	FormatSARIF    Format = "sarif"
)

var formats = []Format{FormatMarkdown, FormatJSON, FormatTable, FormatSARIF}

// Formats lists the supported formats.
func Formats() []Format { return slices.Clone(formats) }

// ParseFormat accepts a format name, case-insensitively. "md" is an alias
// for markdown.
func ParseFormat(name string) (Format, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "md" {
		n = string(FormatMarkdown)
	}
	for _, f := range formats {
		if string(f) == n {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (want markdown, json, table or sarif)", name)
}

// Options control rendering.
type Options struct {
	// MinSeverity drops findings below it. Zero keeps everything.
	MinSeverity antipattern.Severity
	// Root makes file paths relative when set.
	Root string
	// ToolVersion is reported in JSON and SARIF output.
	ToolVersion string
}

// Write renders reports in format f.
func Write(w io.Writer, f Format, reports []scan.FileReport, opts Options) error {
	switch f {
	case FormatMarkdown:
		return Markdown(w, reports, opts)
	case FormatJSON:
		return JSON(w, reports, opts)
	case FormatTable:
		return Table(w, reports, opts)
	case FormatSARIF:
		return SARIF(w, reports, opts)
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// row is one finding flattened with its file and rule.
type row struct {
	path    string
	kind    antipattern.Kind
	finding antipattern.Finding
}

// prepare filters reports by severity and makes paths display-ready.
func prepare(reports []scan.FileReport, opts Options) []scan.FileReport {
	out := make([]scan.FileReport, len(reports))
	for i, rep := range reports {
		if opts.MinSeverity > 0 {
			rep = rep.Filter(opts.MinSeverity)
		}
		rep.Path = displayPath(rep.Path, opts.Root)
		out[i] = rep
	}
	return out
}

func rows(reports []scan.FileReport) []row {
	var out []row
	for _, rep := range reports {
		for _, res := range rep.Results {
			for _, f := range res.Findings {
				out = append(out, row{path: rep.Path, kind: res.Kind, finding: f})
			}
		}
	}
	return out
}

func displayPath(path, root string) string {
	if path == "" {
		return ""
	}
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
	}
	return filepath.ToSlash(path)
}

func location(path, class string, line int) string {
	if path == "" {
		path = class
	}
	return fmt.Sprintf("%s:%d", path, line)
}

// failure is a file or rule that could not be analyzed.
type failure struct {
	Path  string           `json:"path"`
	Kind  antipattern.Kind `json:"kind,omitempty"`
	Error string           `json:"error"`
}

func failures(reports []scan.FileReport) []failure {
	var out []failure
	for _, rep := range reports {
		if rep.Error != "" {
			out = append(out, failure{Path: rep.Path, Error: rep.Error})
		}
		for _, res := range rep.Results {
			if res.Err != nil {
				out = append(out, failure{Path: rep.Path, Kind: res.Kind, Error: res.Err.Error()})
			}
		}
	}
	return out
}

func severitySummary(sum scan.Summary) string {
	var parts []string
	for sev := antipattern.SevCritical; sev >= antipattern.SevMinor; sev-- {
		if n := sum.BySeverity[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return strings.Join(parts, ", ")
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
