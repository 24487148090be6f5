package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/recommend"
	"github.com/jmylchreest/apexlens/pkg/scan"
	"github.com/jmylchreest/apexlens/pkg/store"
)

// queryDetector reports every line containing an inline query as SOQL in
// a loop, attributed to method "run".
type queryDetector struct{}

func (queryDetector) Kind() antipattern.Kind { return antipattern.KindSOQLInLoop }

func (queryDetector) Detect(className, source string) ([]antipattern.Finding, error) {
	var out []antipattern.Finding
	for i, line := range strings.Split(source, "\n") {
		if strings.Contains(line, "[SELECT") {
			out = append(out, antipattern.Finding{
				ClassName:  className,
				MethodName: "run",
				Line:       i + 1,
				Snippet:    strings.TrimSpace(line),
				Severity:   antipattern.SevCritical,
				Metadata:   map[string]string{"object": "Account"},
			})
		}
	}
	return out, nil
}

func testScanner(t *testing.T) *scan.Scanner {
	t.Helper()
	rec, err := recommend.For(antipattern.KindSOQLInLoop)
	if err != nil {
		t.Fatal(err)
	}
	reg := antipattern.NewRegistry()
	reg.Register(antipattern.MustModule(queryDetector{}, rec))
	return scan.New(reg)
}

func testMCPServer(t *testing.T) (*mcpServer, string) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open(filepath.Join(root, ".apexlens", "findings"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return newMCPServer(root, testScanner(t), st, 0), root
}

func writeClass(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T; want *mcp.TextContent", res.Content[0])
	}
	return tc.Text
}

const accountService = `public class AccountService {
    public void run(List<Id> ids) {
        for (Id i : ids) { Account a = [SELECT Id FROM Account WHERE Id = :i]; }
    }
}
`

// =============================================================================
// antipattern_scan / antipattern_rules
// =============================================================================

func TestHandleScanInlineSource(t *testing.T) {
	s, _ := testMCPServer(t)
	res, _, err := s.handleScan(context.Background(), nil, ScanInput{Source: accountService, ClassName: "AccountService"})
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, res)
	if res.IsError {
		t.Fatalf("scan failed: %s", text)
	}
	for _, want := range []string{"## SOQL inside a loop (`soql-in-loop`, 1 finding)", "AccountService.run", "### How to fix"} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q:\n%s", want, text)
		}
	}
}

func TestHandleScanDefaultClassName(t *testing.T) {
	s, _ := testMCPServer(t)
	res, _, _ := s.handleScan(context.Background(), nil, ScanInput{Source: "x = [SELECT Id FROM Account];", Format: "json"})
	var doc struct {
		Files []struct {
			Class string `json:"class"`
		} `json:"files"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &doc); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(doc.Files) != 1 || doc.Files[0].Class != "Anonymous" {
		t.Errorf("files = %+v; want one Anonymous class", doc.Files)
	}
}

func TestHandleScanMinSeverity(t *testing.T) {
	s, _ := testMCPServer(t)
	res, _, _ := s.handleScan(context.Background(), nil, ScanInput{Source: accountService, MinSeverity: "critical"})
	if !strings.Contains(resultText(t, res), "1 finding") {
		t.Errorf("critical finding filtered out")
	}

	res, _, _ = s.handleScan(context.Background(), nil, ScanInput{Source: accountService, MinSeverity: "bogus"})
	if !res.IsError {
		t.Error("bogus severity accepted")
	}
	res, _, _ = s.handleScan(context.Background(), nil, ScanInput{Source: accountService, Format: "xml"})
	if !res.IsError {
		t.Error("bogus format accepted")
	}
}

func TestHandleScanPathsAndSave(t *testing.T) {
	s, root := testMCPServer(t)
	writeClass(t, root, "classes/AccountService.cls", accountService)
	writeClass(t, root, "classes/Clean.cls", "public class Clean {}\n")
	writeClass(t, root, "README.md", "[SELECT Id FROM Account]\n")

	res, _, _ := s.handleScan(context.Background(), nil, ScanInput{Paths: []string{"classes"}, Save: true})
	text := resultText(t, res)
	if res.IsError {
		t.Fatalf("scan failed: %s", text)
	}
	if !strings.Contains(text, "1 finding in 1 of 2 files") {
		t.Errorf("summary wrong:\n%s", text)
	}
	if !strings.Contains(text, "`classes/AccountService.cls:3`") {
		t.Errorf("path not relative to root:\n%s", text)
	}

	records, err := s.store.List(store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Class != "AccountService" {
		t.Fatalf("stored records = %+v; want one AccountService record", records)
	}
}

func TestHandleRules(t *testing.T) {
	s, _ := testMCPServer(t)

	res, _, _ := s.handleRules(context.Background(), nil, RulesInput{})
	text := resultText(t, res)
	for _, k := range []antipattern.Kind{antipattern.KindSOQLInLoop, antipattern.KindDMLInLoop, antipattern.KindSchemaGlobalDescribe} {
		if !strings.Contains(text, "`"+string(k)+"`") {
			t.Errorf("rule list missing %s", k)
		}
	}

	res, _, _ = s.handleRules(context.Background(), nil, RulesInput{Kind: "dml-in-loop"})
	if res.IsError || !strings.HasPrefix(resultText(t, res), "# DML inside a loop") {
		t.Errorf("dml-in-loop document = %q", firstLine(resultText(t, res)))
	}

	res, _, _ = s.handleRules(context.Background(), nil, RulesInput{Kind: "nope"})
	if !res.IsError {
		t.Error("unknown kind accepted")
	}
}

// =============================================================================
// soql_analyze / soql_remove_fields
// =============================================================================

func TestHandleSoqlAnalyze(t *testing.T) {
	s, _ := testMCPServer(t)

	res, _, _ := s.handleSoqlAnalyze(context.Background(), nil, SoqlAnalyzeInput{Query: "[SELECT Id, Name FROM Account LIMIT 1]"})
	var got queryAnalysis
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.Object != "Account" || len(got.Fields) != 2 || !got.Clauses.Limit || got.Clauses.Where {
		t.Errorf("analysis = %+v", got)
	}

	res, _, _ = s.handleSoqlAnalyze(context.Background(), nil, SoqlAnalyzeInput{Query: "   "})
	if !res.IsError {
		t.Error("empty query accepted")
	}
}

func TestHandleSoqlRemoveFields(t *testing.T) {
	s, _ := testMCPServer(t)
	tests := []struct {
		name    string
		input   SoqlRemoveFieldsInput
		want    string
		wantErr bool
	}{
		{
			name:  "removes",
			input: SoqlRemoveFieldsInput{Query: "SELECT Id, Name, Phone FROM Account LIMIT 10", Fields: []string{"Phone"}},
			want:  "SELECT Id, Name FROM Account LIMIT 10",
		},
		{
			name:  "known fields restrict removal",
			input: SoqlRemoveFieldsInput{Query: "SELECT Id, Name, Phone FROM Account", Fields: []string{"Name", "Phone"}, KnownFields: []string{"Phone"}},
			want:  "SELECT Id, Name FROM Account",
		},
		{
			name:    "subquery refused",
			input:   SoqlRemoveFieldsInput{Query: "SELECT Id, (SELECT Id FROM Contacts) FROM Account", Fields: []string{"Id"}},
			wantErr: true,
		},
		{
			name:    "no fields",
			input:   SoqlRemoveFieldsInput{Query: "SELECT Id FROM Account"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, _ := s.handleSoqlRemoveFields(context.Background(), nil, tt.input)
			if res.IsError != tt.wantErr {
				t.Fatalf("IsError = %t; want %t (%s)", res.IsError, tt.wantErr, resultText(t, res))
			}
			if !tt.wantErr {
				if got := resultText(t, res); got != tt.want {
					t.Errorf("query = %q; want %q", got, tt.want)
				}
			}
		})
	}
}

// =============================================================================
// findings_* / apexlens_status
// =============================================================================

func seedStore(t *testing.T, s *mcpServer, root string) {
	t.Helper()
	writeClass(t, root, "classes/AccountService.cls", accountService)
	rep := s.scanner.ScanFile(filepath.Join(root, "classes", "AccountService.cls"))
	if err := s.store.SaveReport(rep); err != nil {
		t.Fatal(err)
	}
}

func TestHandleFindingsTools(t *testing.T) {
	s, root := testMCPServer(t)
	seedStore(t, s, root)
	ctx := context.Background()
	line := "[CRITICAL] classes/AccountService.cls:3 - AccountService.run (soql-in-loop)\n"

	res, _, _ := s.handleFindingsList(ctx, nil, FindingsListInput{Class: "AccountService"})
	if got := resultText(t, res); got != "Found 1 findings:\n\n"+line {
		t.Errorf("findings_list = %q", got)
	}

	res, _, _ = s.handleFindingsList(ctx, nil, FindingsListInput{MinSeverity: "critical", Kind: "dml-in-loop"})
	if got := resultText(t, res); got != "No findings found." {
		t.Errorf("findings_list filtered = %q", got)
	}

	res, _, _ = s.handleFindingsSearch(ctx, nil, FindingsSearchInput{Query: "accountservice"})
	if got := resultText(t, res); !strings.Contains(got, line) {
		t.Errorf("findings_search = %q", got)
	}

	res, _, _ = s.handleFindingsStats(ctx, nil, FindingsStatsInput{})
	got := resultText(t, res)
	if !strings.HasPrefix(got, "Total findings: 1 in 1 files\n") || !strings.Contains(got, "soql-in-loop") {
		t.Errorf("findings_stats = %q", got)
	}

	res, _, _ = s.handleFindingsList(ctx, nil, FindingsListInput{Kind: "bogus"})
	if !res.IsError {
		t.Error("bogus kind accepted")
	}
}

func TestFindingsToolsWithoutStore(t *testing.T) {
	s := newMCPServer(t.TempDir(), testScanner(t), nil, 0)
	ctx := context.Background()

	if res, _, _ := s.handleFindingsList(ctx, nil, FindingsListInput{}); !res.IsError {
		t.Error("findings_list without store succeeded")
	}
	if res, _, _ := s.handleFindingsSearch(ctx, nil, FindingsSearchInput{Query: "x"}); !res.IsError {
		t.Error("findings_search without store succeeded")
	}
	if res, _, _ := s.handleFindingsStats(ctx, nil, FindingsStatsInput{}); !res.IsError {
		t.Error("findings_stats without store succeeded")
	}
}

func TestHandleStatus(t *testing.T) {
	s, root := testMCPServer(t)
	s.incrementToolCount("soql_analyze")
	s.incrementToolCount("soql_analyze")

	res, _, _ := s.handleStatus(context.Background(), nil, StatusInput{})
	var got serverStatus
	if err := json.Unmarshal([]byte(resultText(t, res)), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.Root != root || !got.Store {
		t.Errorf("Root, Store = %q, %t; want %q, true", got.Root, got.Store, root)
	}
	if len(got.Rules) != 1 || got.Rules[0] != antipattern.KindSOQLInLoop {
		t.Errorf("Rules = %v", got.Rules)
	}
	if got.Tools["soql_analyze"] != 2 {
		t.Errorf("tool calls = %v; want soql_analyze=2", got.Tools)
	}
	if got.Watcher != nil || got.Runner != nil {
		t.Error("watcher status reported without a watch session")
	}
}

// =============================================================================
// Protocol round trip
// =============================================================================

func TestMCPRoundTrip(t *testing.T) {
	s, _ := testMCPServer(t)
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{
		"antipattern_scan", "antipattern_rules", "soql_analyze", "soql_remove_fields",
		"findings_search", "findings_list", "findings_stats", "apexlens_status",
	} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "soql_remove_fields",
		Arguments: map[string]any{"query": "SELECT Id, Name FROM Account", "fields": []string{"Name"}},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if got := resultText(t, res); got != "SELECT Id FROM Account" {
		t.Errorf("soql_remove_fields = %q", got)
	}
	if got := s.getToolCounts()["soql_remove_fields"]; got != 1 {
		t.Errorf("tool count = %d; want 1", got)
	}
}
