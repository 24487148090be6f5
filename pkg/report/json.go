package report

import (
	"encoding/json"
	"io"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/scan"
)

type jsonDocument struct {
	Tool     string       `json:"tool"`
	Version  string       `json:"version,omitempty"`
	Summary  scan.Summary `json:"summary"`
	Files    []jsonFile   `json:"files"`
	Failures []failure    `json:"failures,omitempty"`
}

type jsonFile struct {
	Path    string       `json:"path,omitempty"`
	Class   string       `json:"class"`
	Results []jsonResult `json:"results"`
}

type jsonResult struct {
	Kind           antipattern.Kind      `json:"kind"`
	Recommendation string                `json:"recommendation"`
	Findings       []antipattern.Finding `json:"findings"`
}

// JSON writes one document holding the summary, every file with findings
// and every failure. Results without findings are left out.
func JSON(w io.Writer, reports []scan.FileReport, opts Options) error {
	reports = prepare(reports, opts)
	doc := jsonDocument{
		Tool:     "apexlens",
		Version:  opts.ToolVersion,
		Summary:  scan.Summarize(reports),
		Files:    []jsonFile{},
		Failures: failures(reports),
	}
	for _, rep := range reports {
		var results []jsonResult
		for _, res := range rep.Results {
			if !res.HasFindings() {
				continue
			}
			results = append(results, jsonResult{Kind: res.Kind, Recommendation: res.Recommendation, Findings: res.Findings})
		}
		if len(results) > 0 {
			doc.Files = append(doc.Files, jsonFile{Path: rep.Path, Class: rep.ClassName, Results: results})
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
