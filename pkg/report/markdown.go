package report

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/rules"
	"github.com/jmylchreest/apexlens/pkg/scan"
)

// ruleGroup collects every finding of one rule across files.
type ruleGroup struct {
	kind           antipattern.Kind
	recommendation string
	rows           []row
}

// groupByRule keeps rules in the order they first appear, which is
// registration order, and findings in path then line order.
func groupByRule(reports []scan.FileReport) []*ruleGroup {
	var groups []*ruleGroup
	byKind := make(map[antipattern.Kind]*ruleGroup)
	for _, rep := range reports {
		for _, res := range rep.Results {
			g, ok := byKind[res.Kind]
			if !ok {
				g = &ruleGroup{kind: res.Kind}
				byKind[res.Kind] = g
				groups = append(groups, g)
			}
			if g.recommendation == "" {
				g.recommendation = res.Recommendation
			}
			for _, f := range res.Findings {
				g.rows = append(g.rows, row{path: rep.Path, kind: res.Kind, finding: f})
			}
		}
	}
	for _, g := range groups {
		slices.SortStableFunc(g.rows, func(a, b row) int {
			if c := strings.Compare(a.path, b.path); c != 0 {
				return c
			}
			return a.finding.Line - b.finding.Line
		})
	}
	return groups
}

// Markdown writes a report grouped by rule. Each rule with findings lists
// its occurrences followed by its remediation, once.
func Markdown(w io.Writer, reports []scan.FileReport, opts Options) error {
	reports = prepare(reports, opts)
	sum := scan.Summarize(reports)

	var b strings.Builder
	b.WriteString("# Apex antipattern report\n\n")
	if sum.Findings == 0 {
		fmt.Fprintf(&b, "No antipatterns found in %s.\n", plural(sum.Files, "file"))
	} else {
		fmt.Fprintf(&b, "%s in %d of %s (%s).\n",
			plural(sum.Findings, "finding"), sum.FilesWithFindings, plural(sum.Files, "file"), severitySummary(sum))
	}

	for _, g := range groupByRule(reports) {
		if len(g.rows) == 0 {
			continue
		}
		title := string(g.kind)
		if info, ok := rules.Describe(g.kind); ok {
			title = info.Title
		}
		fmt.Fprintf(&b, "\n## %s (`%s`, %s)\n\n", title, g.kind, plural(len(g.rows), "finding"))

		for _, r := range g.rows {
			writeFinding(&b, r)
		}

		if g.recommendation != "" {
			b.WriteString("\n### How to fix\n\n")
			b.WriteString(demoteHeadings(strings.TrimSpace(g.recommendation), 2))
			b.WriteString("\n")
		}
	}

	if fails := failures(reports); len(fails) > 0 {
		b.WriteString("\n## Not analyzed\n\n")
		for _, f := range fails {
			if f.Kind != "" {
				fmt.Fprintf(&b, "- `%s` (rule `%s`): %s\n", f.Path, f.Kind, f.Error)
			} else {
				fmt.Fprintf(&b, "- `%s`: %s\n", f.Path, f.Error)
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeFinding(b *strings.Builder, r row) {
	f := r.finding
	where := f.ClassName
	if f.MethodName != "" {
		where += "." + f.MethodName
	}
	fmt.Fprintf(b, "- **%s** `%s` in `%s`\n", f.Severity, location(r.path, f.ClassName, f.Line), where)

	for _, k := range slices.Sorted(maps.Keys(f.Metadata)) {
		fmt.Fprintf(b, "  - %s: `%s`\n", k, f.Metadata[k])
	}
	if snippet := strings.TrimRight(f.Snippet, "\n"); snippet != "" {
		b.WriteString("\n  ```apex\n")
		for _, line := range strings.Split(snippet, "\n") {
			if line == "" {
				b.WriteString("\n")
				continue
			}
			b.WriteString("  " + line + "\n")
		}
		b.WriteString("  ```\n\n")
	}
}

// demoteHeadings pushes every markdown heading outside code fences down by
// n levels so embedded documents nest under the report's own headings.
func demoteHeadings(text string, n int) string {
	prefix := strings.Repeat("#", n)
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(line, "#") {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
