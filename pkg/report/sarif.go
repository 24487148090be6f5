package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/rules"
	"github.com/jmylchreest/apexlens/pkg/scan"
)

// SARIF 2.1.0 subset.
const (
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://json.schemastore.org/sarif-2.1.0.json"
)

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version,omitempty"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	ShortDescription sarifMessage `json:"shortDescription"`
	FullDescription  sarifMessage `json:"fullDescription"`
	Help             *sarifHelp   `json:"help,omitempty"`
}

type sarifHelp struct {
	Text     string `json:"text"`
	Markdown string `json:"markdown"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID     string            `json:"ruleId"`
	RuleIndex  int               `json:"ruleIndex"`
	Level      string            `json:"level"`
	Message    sarifMessage      `json:"message"`
	Locations  []sarifLocation   `json:"locations"`
	Properties map[string]string `json:"properties,omitempty"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	StartLine int           `json:"startLine"`
	Snippet   *sarifMessage `json:"snippet,omitempty"`
}

// SARIF writes a single-run SARIF log. Every known rule is listed in the
// driver; results reference it by index.
func SARIF(w io.Writer, reports []scan.FileReport, opts Options) error {
	reports = prepare(reports, opts)

	recs := make(map[antipattern.Kind]string)
	for _, rep := range reports {
		for _, res := range rep.Results {
			if _, ok := recs[res.Kind]; !ok && res.Recommendation != "" {
				recs[res.Kind] = res.Recommendation
			}
		}
	}

	index := make(map[antipattern.Kind]int)
	var sr []sarifRule
	for i, info := range rules.All() {
		index[info.Kind] = i
		rule := sarifRule{
			ID:               string(info.Kind),
			Name:             ruleName(info.Kind),
			ShortDescription: sarifMessage{Text: info.Title},
			FullDescription:  sarifMessage{Text: info.Description},
		}
		if rec := recs[info.Kind]; rec != "" {
			rule.Help = &sarifHelp{Text: rec, Markdown: rec}
		}
		sr = append(sr, rule)
	}

	results := []sarifResult{}
	for _, r := range rows(reports) {
		idx, ok := index[r.kind]
		if !ok {
			continue
		}
		f := r.finding
		uri := r.path
		if uri == "" {
			uri = f.ClassName
		}
		line := f.Line
		if line <= 0 {
			line = 1
		}
		region := sarifRegion{StartLine: line}
		if f.Snippet != "" {
			region.Snippet = &sarifMessage{Text: f.Snippet}
		}
		results = append(results, sarifResult{
			RuleID:    string(r.kind),
			RuleIndex: idx,
			Level:     sarifLevel(f.Severity),
			Message:   sarifMessage{Text: resultMessage(sr[idx].ShortDescription.Text, f)},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: uri},
					Region:           region,
				},
			}},
			Properties: f.Metadata,
		})
	}

	log := sarifLog{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []sarifRun{{
			Tool: sarifTool{Driver: sarifDriver{
				Name:           "apexlens",
				Version:        opts.ToolVersion,
				InformationURI: "https://github.com/jmylchreest/apexlens",
				Rules:          sr,
			}},
			Results: results,
		}},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(log)
}

func sarifLevel(s antipattern.Severity) string {
	switch s {
	case antipattern.SevCritical:
		return "error"
	case antipattern.SevMajor:
		return "warning"
	default:
		return "note"
	}
}

// ruleName turns "soql-in-loop" into "SoqlInLoop".
func ruleName(k antipattern.Kind) string {
	var b strings.Builder
	for _, part := range strings.Split(string(k), "-") {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

func resultMessage(title string, f antipattern.Finding) string {
	if f.MethodName == "" {
		return fmt.Sprintf("%s in %s", title, f.ClassName)
	}
	return fmt.Sprintf("%s in %s.%s", title, f.ClassName, f.MethodName)
}
