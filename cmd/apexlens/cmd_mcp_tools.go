package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/internal/version"
	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/report"
	"github.com/jmylchreest/apexlens/pkg/rules"
	"github.com/jmylchreest/apexlens/pkg/scan"
	"github.com/jmylchreest/apexlens/pkg/soql"
	"github.com/jmylchreest/apexlens/pkg/store"
	"github.com/jmylchreest/apexlens/pkg/watcher"
)

// =============================================================================
// Results
// =============================================================================

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + message}},
		IsError: true,
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(string(data))
}

// =============================================================================
// Inputs
// =============================================================================

type ScanInput struct {
	Paths       []string `json:"paths,omitempty" jsonschema:"Files or directories to scan, relative to the project root. Defaults to the whole project."`
	Source      string   `json:"source,omitempty" jsonschema:"Apex source to scan instead of files on disk"`
	ClassName   string   `json:"class_name,omitempty" jsonschema:"Class name for inline source (default Anonymous)"`
	MinSeverity string   `json:"min_severity,omitempty" jsonschema:"Lowest severity to report: minor, major or critical"`
	Format      string   `json:"format,omitempty" jsonschema:"markdown (default) or json"`
	Save        bool     `json:"save,omitempty" jsonschema:"Also save file findings to the findings store"`
}

type RulesInput struct {
	Kind string `json:"kind,omitempty" jsonschema:"Rule to describe in full, e.g. soql-in-loop. Omit to list every rule."`
}

type SoqlAnalyzeInput struct {
	Query     string `json:"query" jsonschema:"SOQL query text, optionally wrapped in [ ]"`
	MaxLength int    `json:"max_length,omitempty" jsonschema:"Display length for the shortened query (default 200)"`
}

type SoqlRemoveFieldsInput struct {
	Query       string   `json:"query" jsonschema:"SOQL query text"`
	Fields      []string `json:"fields" jsonschema:"Fields to remove from the outer SELECT list"`
	KnownFields []string `json:"known_fields,omitempty" jsonschema:"When set, only fields also listed here are removed"`
}

type FindingsSearchInput struct {
	Query       string `json:"query" jsonschema:"Search terms matched against class, method, snippet and metadata. Supports Bleve query syntax."`
	Kind        string `json:"kind,omitempty" jsonschema:"Filter by rule, e.g. soql-in-loop"`
	MinSeverity string `json:"min_severity,omitempty" jsonschema:"Lowest severity: minor, major or critical"`
	Class       string `json:"class,omitempty" jsonschema:"Filter by class name"`
	File        string `json:"file,omitempty" jsonschema:"Filter by file path (substring match)"`
	Limit       int    `json:"limit,omitempty" jsonschema:"Maximum results (default 20)"`
}

type FindingsListInput struct {
	Kind        string `json:"kind,omitempty" jsonschema:"Filter by rule, e.g. dml-in-loop"`
	MinSeverity string `json:"min_severity,omitempty" jsonschema:"Lowest severity: minor, major or critical"`
	Class       string `json:"class,omitempty" jsonschema:"Filter by class name"`
	File        string `json:"file,omitempty" jsonschema:"Filter by file path (substring match)"`
	Limit       int    `json:"limit,omitempty" jsonschema:"Maximum results (default 100)"`
}

type FindingsStatsInput struct{}

type StatusInput struct{}

// =============================================================================
// Registration
// =============================================================================

func (s *mcpServer) registerScanTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "antipattern_scan",
		Description: `Scan Apex code for performance antipatterns.

Pass "paths" to scan files or directories in the project, or "source" to
scan a snippet or whole class you are writing. Returns findings grouped by
rule with one remediation section per rule.

**Rules:** SOQL in a loop, DML in a loop, SOQL without WHERE or LIMIT,
unused SOQL fields, Schema.getGlobalDescribe().

**Tip:** scan code before proposing it; fix critical findings first.`,
	}, s.handleScan)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "antipattern_rules",
		Description: `List the antipattern rules, or show one rule's full remediation.

Omit "kind" for a summary of every rule. Pass a kind such as soql-in-loop
to get the document explaining how to fix it.`,
	}, s.handleRules)
}

func (s *mcpServer) registerSoqlTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "soql_analyze",
		Description: `Analyse SOQL query text.

Returns the queried object, the outer SELECT fields, whether the query has
subqueries, which clauses it uses (WHERE, LIMIT, ORDER BY...) and a
shortened display form. Pure text analysis: nothing is executed.`,
	}, s.handleSoqlAnalyze)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "soql_remove_fields",
		Description: `Remove fields from a query's outer SELECT list.

Everything after FROM is kept byte for byte. Queries with subqueries, or
that would be left with no fields, are refused rather than rewritten.`,
	}, s.handleSoqlRemoveFields)
}

func (s *mcpServer) registerFindingsTools() {
	if s.store == nil {
		logging.Named("mcp").Warn("findings tools not registered: store unavailable")
		return
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "findings_search",
		Description: `Search stored antipattern findings by keyword.

Matches class and method names, code snippets and metadata such as the
queried object. Use findings_list to browse without a keyword.

Findings are stored by 'apexlens scan --store', 'apexlens watch' or this
server when started with --watch.`,
	}, s.handleFindingsSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "findings_list",
		Description: `List stored antipattern findings with optional filters.

**When to use:**
- "What is wrong with AccountService?" → class=AccountService
- "Show every critical finding" → min_severity=critical
- "Any queries in loops?" → kind=soql-in-loop`,
	}, s.handleFindingsList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "findings_stats",
		Description: `Get counts of stored findings by rule and severity.

**Start here** when asked about Apex code health, then drill in with
findings_list or findings_search.`,
	}, s.handleFindingsStats)
}

func (s *mcpServer) registerStatusTool() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "apexlens_status",
		Description: `Report server uptime, tool usage and, when watching, watcher and rescan activity.`,
	}, s.handleStatus)
}

// =============================================================================
// Handlers
// =============================================================================

func (s *mcpServer) handleScan(ctx context.Context, _ *mcp.CallToolRequest, input ScanInput) (*mcp.CallToolResult, any, error) {
	log := logging.Named("mcp")
	log.Infow("tool: antipattern_scan", "paths", input.Paths, "inline", input.Source != "")

	format := report.FormatMarkdown
	if input.Format != "" {
		f, err := report.ParseFormat(input.Format)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		format = f
	}
	var minSev antipattern.Severity
	if input.MinSeverity != "" {
		sev, err := antipattern.ParseSeverity(input.MinSeverity)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		minSev = sev
	}

	var reports []scan.FileReport
	if input.Source != "" {
		className := input.ClassName
		if className == "" {
			className = "Anonymous"
		}
		reports = []scan.FileReport{s.scanner.ScanSource(className, input.Source)}
	} else {
		paths := s.resolvePaths(input.Paths)
		var err error
		reports, err = s.scanner.ScanPaths(ctx, paths)
		if err != nil {
			return errorResult(fmt.Sprintf("scan failed: %v", err)), nil, nil
		}
		if input.Save && s.store != nil {
			for _, rep := range reports {
				if rep.Error != "" {
					continue
				}
				if err := s.store.SaveReport(rep); err != nil {
					log.Warnw("saving findings failed", "file", rep.Path, "error", err)
				}
			}
		}
	}

	var sb strings.Builder
	opts := report.Options{MinSeverity: minSev, Root: s.root}
	if err := report.Write(&sb, format, reports, opts); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult(sb.String()), nil, nil
}

// resolvePaths anchors relative paths at the project root.
func (s *mcpServer) resolvePaths(paths []string) []string {
	if len(paths) == 0 {
		return []string{s.root}
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		if filepath.IsAbs(p) {
			out[i] = p
		} else {
			out[i] = filepath.Join(s.root, p)
		}
	}
	return out
}

func (s *mcpServer) handleRules(_ context.Context, _ *mcp.CallToolRequest, input RulesInput) (*mcp.CallToolResult, any, error) {
	logging.Named("mcp").Infow("tool: antipattern_rules", "kind", input.Kind)

	if input.Kind != "" {
		var sb strings.Builder
		if err := showRule(&sb, antipattern.Kind(input.Kind)); err != nil {
			return errorResult(err.Error()), nil, nil
		}
		return textResult(sb.String()), nil, nil
	}

	var sb strings.Builder
	sb.WriteString("# Apex antipattern rules\n\n")
	for _, info := range rules.All() {
		fmt.Fprintf(&sb, "- **%s** (`%s`, %s): %s\n", info.Title, info.Kind, severityRange(info.Severities), info.Description)
	}
	sb.WriteString("\nCall antipattern_rules with a kind for its remediation.\n")
	return textResult(sb.String()), nil, nil
}

func (s *mcpServer) handleSoqlAnalyze(_ context.Context, _ *mcp.CallToolRequest, input SoqlAnalyzeInput) (*mcp.CallToolResult, any, error) {
	logging.Named("mcp").Infow("tool: soql_analyze", "query", soql.FormatQueryForDisplay(input.Query, 60))

	if strings.TrimSpace(input.Query) == "" {
		return errorResult("query is required"), nil, nil
	}
	maxLength := input.MaxLength
	if maxLength <= 0 {
		maxLength = s.maxQueryLength
	}
	return jsonResult(analyzeQuery(input.Query, maxLength)), nil, nil
}

func (s *mcpServer) handleSoqlRemoveFields(_ context.Context, _ *mcp.CallToolRequest, input SoqlRemoveFieldsInput) (*mcp.CallToolResult, any, error) {
	logging.Named("mcp").Infow("tool: soql_remove_fields", "fields", input.Fields)

	if strings.TrimSpace(input.Query) == "" {
		return errorResult("query is required"), nil, nil
	}
	if len(input.Fields) == 0 {
		return errorResult("fields is required"), nil, nil
	}
	out := soql.RemoveUnusedFields(input.Query, input.Fields, input.KnownFields)
	if out == "" {
		return errorResult("query cannot be rewritten safely: it is malformed, has a subquery, or would have no fields left"), nil, nil
	}
	return textResult(out), nil, nil
}

func (s *mcpServer) handleFindingsSearch(_ context.Context, _ *mcp.CallToolRequest, input FindingsSearchInput) (*mcp.CallToolResult, any, error) {
	logging.Named("mcp").Infow("tool: findings_search", "query", input.Query, "kind", input.Kind)

	if s.store == nil {
		return errorResult("findings store not available"), nil, nil
	}
	filter, err := buildFilter(input.Kind, input.MinSeverity, input.Class, input.File, input.Limit)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	hits, err := s.store.Search(input.Query, filter)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil, nil
	}
	return textResult(formatHits(s.root, hits)), nil, nil
}

func (s *mcpServer) handleFindingsList(_ context.Context, _ *mcp.CallToolRequest, input FindingsListInput) (*mcp.CallToolResult, any, error) {
	logging.Named("mcp").Infow("tool: findings_list", "kind", input.Kind, "class", input.Class, "file", input.File)

	if s.store == nil {
		return errorResult("findings store not available"), nil, nil
	}
	filter, err := buildFilter(input.Kind, input.MinSeverity, input.Class, input.File, input.Limit)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	records, err := s.store.List(filter)
	if err != nil {
		return errorResult(fmt.Sprintf("list failed: %v", err)), nil, nil
	}
	return textResult(formatRecords(s.root, records)), nil, nil
}

func (s *mcpServer) handleFindingsStats(_ context.Context, _ *mcp.CallToolRequest, _ FindingsStatsInput) (*mcp.CallToolResult, any, error) {
	logging.Named("mcp").Info("tool: findings_stats")

	if s.store == nil {
		return errorResult("findings store not available"), nil, nil
	}
	stats, err := s.store.Stats(store.Filter{})
	if err != nil {
		return errorResult(fmt.Sprintf("stats failed: %v", err)), nil, nil
	}
	return textResult(formatStats(stats)), nil, nil
}

type serverStatus struct {
	Version string             `json:"version"`
	Root    string             `json:"root"`
	Uptime  string             `json:"uptime"`
	Store   bool               `json:"store"`
	Rules   []antipattern.Kind `json:"rules"`
	Tools   map[string]int64   `json:"tool_calls"`
	Watcher *watcher.Stats     `json:"watcher,omitempty"`
	Runner  *scan.RunnerStatus `json:"runner,omitempty"`
}

func (s *mcpServer) handleStatus(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, any, error) {
	status := serverStatus{
		Version: version.Short(),
		Root:    s.root,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Store:   s.store != nil,
		Rules:   s.scanner.Registry().Kinds(),
		Tools:   s.getToolCounts(),
	}
	if session := s.getSession(); session != nil {
		ws := session.watcher.Stats()
		rs := session.runner.Status()
		status.Watcher = &ws
		status.Runner = &rs
	}
	return jsonResult(status), nil, nil
}
