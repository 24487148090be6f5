package main

import (
	"cmp"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/store"
)

// relPath shows path relative to root when it lies inside it.
func relPath(root, path string) string {
	if root == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// formatRecordLine renders one stored finding as a single line.
func formatRecordLine(root string, r *store.Record) string {
	loc := relPath(root, r.File)
	if r.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, r.Line)
	}
	where := r.Class
	if r.Method != "" {
		where += "." + r.Method
	}
	return fmt.Sprintf("[%s] %s - %s (%s)\n", strings.ToUpper(r.Severity.String()), loc, where, r.Kind)
}

func formatRecords(root string, records []*store.Record) string {
	if len(records) == 0 {
		return "No findings found."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d findings:\n\n", len(records))
	for _, r := range records {
		sb.WriteString(formatRecordLine(root, r))
	}
	return sb.String()
}

func formatHits(root string, hits []store.Hit) string {
	records := make([]*store.Record, len(hits))
	for i, h := range hits {
		records[i] = h.Record
	}
	return formatRecords(root, records)
}

// formatStats lists counts by rule then by severity, highest first.
func formatStats(st *store.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total findings: %d in %d files\n", st.Total, st.Files)

	if len(st.ByKind) > 0 {
		sb.WriteString("\nBy rule:\n")
		for _, k := range slices.Sorted(maps.Keys(st.ByKind)) {
			fmt.Fprintf(&sb, "  %-28s %d\n", k, st.ByKind[k])
		}
	}
	if len(st.BySeverity) > 0 {
		sb.WriteString("\nBy severity:\n")
		sevs := slices.SortedFunc(maps.Keys(st.BySeverity), func(a, b antipattern.Severity) int {
			return cmp.Compare(b, a)
		})
		for _, s := range sevs {
			fmt.Fprintf(&sb, "  %-28s %d\n", s, st.BySeverity[s])
		}
	}
	return sb.String()
}
