package report

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/jmylchreest/apexlens/pkg/scan"
)

// Table writes one row per finding, ordered by path, line and rule,
// followed by a summary line.
func Table(w io.Writer, reports []scan.FileReport, opts Options) error {
	reports = prepare(reports, opts)
	all := rows(reports)
	slices.SortStableFunc(all, func(a, b row) int {
		if c := strings.Compare(a.path, b.path); c != 0 {
			return c
		}
		if a.finding.Line != b.finding.Line {
			return a.finding.Line - b.finding.Line
		}
		return strings.Compare(string(a.kind), string(b.kind))
	})

	sum := scan.Summarize(reports)
	if len(all) == 0 {
		_, err := fmt.Fprintf(w, "No antipatterns found in %s.\n", plural(sum.Files, "file"))
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Severity", "Rule", "Location", "Method")
	for _, r := range all {
		if err := table.Append(
			r.finding.Severity.String(),
			string(r.kind),
			location(r.path, r.finding.ClassName, r.finding.Line),
			r.finding.MethodName,
		); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	line := fmt.Sprintf("%s in %d of %s (%s)",
		plural(sum.Findings, "finding"), sum.FilesWithFindings, plural(sum.Files, "file"), severitySummary(sum))
	if sum.Failures > 0 {
		line += ", " + strconv.Itoa(sum.Failures) + " not analyzed"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
