package apex

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/jmylchreest/apexlens/pkg/grammar"
)

func javaParser(t *testing.T, strict bool) *Parser {
	t.Helper()
	lang, err := grammar.NewBuiltinRegistry().Load(grammar.BuiltinJava)
	if err != nil {
		t.Fatalf("loading java grammar: %v", err)
	}
	return NewParserForLanguage(lang, grammar.BuiltinJava, strict)
}

func mustParse(t *testing.T, src string) *Node {
	t.Helper()
	root, err := javaParser(t, false).Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return root
}

// span builds a node covering the first occurrence of text in src.
func span(src, text string, k Kind, field string, children ...*Node) *Node {
	start := strings.Index(src, text)
	if start < 0 {
		panic("span: " + text + " not in source")
	}
	return &Node{
		Kind:     k,
		Type:     k.String(),
		Field:    field,
		Start:    start,
		End:      start + len(text),
		Line:     strings.Count(src[:start], "\n") + 1,
		Children: children,
	}
}

// fakeLoader serves the built-in grammars and fails for everything else.
type fakeLoader struct{ builtin *grammar.BuiltinRegistry }

func (f fakeLoader) Load(_ context.Context, name string) (*tree_sitter.Language, error) {
	return f.builtin.Load(name)
}
func (f fakeLoader) Available() []string             { return f.builtin.Names() }
func (f fakeLoader) Installed() []grammar.GrammarInfo { return nil }
func (f fakeLoader) Install(context.Context, string) error {
	return errors.New("offline")
}
func (f fakeLoader) Remove(string) error { return nil }

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

func TestParseConvertsNamedNodes(t *testing.T) {
	src := "class Invoice {\n  void total(Integer n) {\n    helper(n);\n  }\n}\n"
	root := mustParse(t, src)

	var method, call *Node
	root.Inspect(func(n *Node) bool {
		switch n.Kind {
		case KindMethod:
			method = n
		case KindCall:
			call = n
		}
		return true
	})
	if method == nil || call == nil {
		t.Fatal("method or call not converted")
	}
	if got := MethodName(method, src); got != "total" {
		t.Errorf("MethodName = %q; want total", got)
	}
	if method.Line != 2 || call.Line != 3 {
		t.Errorf("lines = %d, %d; want 2, 3", method.Line, call.Line)
	}
	if call.ChildByField("name").Text(src) != "helper" {
		t.Errorf("call name = %q", call.ChildByField("name").Text(src))
	}
	if method.FirstChild(KindParams) == nil {
		t.Error("formal_parameters not mapped to KindParams")
	}
}

func TestParseStrictAndTolerant(t *testing.T) {
	src := "class A {\n  void m() {\n    int x = ;\n  }\n}\n"

	_, err := javaParser(t, true).Parse(src)
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("strict Parse err = %v; want *SyntaxError", err)
	}
	if se.Line < 1 {
		t.Errorf("SyntaxError.Line = %d", se.Line)
	}

	root, err := javaParser(t, false).Parse(src)
	if err != nil {
		t.Fatalf("tolerant Parse: %v", err)
	}
	if !root.HasError() {
		t.Error("tolerant tree should keep the error node")
	}
}

func TestNewParserJavaFallback(t *testing.T) {
	loader := fakeLoader{builtin: grammar.NewBuiltinRegistry()}

	if _, err := NewParser(context.Background(), loader); err == nil {
		t.Fatal("NewParser without fallback should fail when apex is unavailable")
	}

	p, err := NewParser(context.Background(), loader, WithJavaFallback(true), WithStrict(true))
	if err != nil {
		t.Fatalf("NewParser with fallback: %v", err)
	}
	if p.Dialect() != grammar.BuiltinJava {
		t.Errorf("Dialect() = %q; want java", p.Dialect())
	}
	if _, err := p.Parse("class A {}"); err != nil {
		t.Errorf("Parse: %v", err)
	}
}

func TestTreeProviderFunc(t *testing.T) {
	want := &Node{Kind: KindClass}
	var tp TreeProvider = TreeProviderFunc(func(string) (*Node, error) { return want, nil })
	if got, _ := tp.Parse(""); got != want {
		t.Error("TreeProviderFunc did not delegate")
	}
}

// ---------------------------------------------------------------------------
// Walk
// ---------------------------------------------------------------------------

func TestWalkLoopDepth(t *testing.T) {
	src := `class A {
  void outer() {
    first();
    for (int i = start(); i < limit(); i++) {
      while (more()) {
        inner();
      }
    }
    for (Account a : fetch()) {
      body();
    }
    do { again(); } while (cond());
  }
}`
	root := mustParse(t, src)

	depths := map[string]int{}
	methods := map[string]string{}
	Walk(root, src, Context{}, func(n *Node, ctx Context) bool {
		if n.Kind == KindCall {
			name := n.ChildByField("name").Text(src)
			depths[name] = ctx.LoopDepth
			methods[name] = ctx.Method
		}
		return true
	})

	want := map[string]int{
		"first": 0, "start": 0, "limit": 1, "more": 2, "inner": 2,
		"fetch": 0, "body": 1, "again": 1, "cond": 1,
	}
	if !reflect.DeepEqual(depths, want) {
		t.Errorf("depths = %v; want %v", depths, want)
	}
	for name, m := range methods {
		if m != "outer" {
			t.Errorf("%s: method = %q; want outer", name, m)
		}
	}
}

func TestWalkMethodResetsContext(t *testing.T) {
	src := `class A {
  void outer() {
    for (int i = 0; i < 3; i++) {
      Runnable r = new Runnable() {
        public void run() { nested(); }
      };
      direct();
    }
  }
}`
	root := mustParse(t, src)

	got := map[string]Context{}
	Walk(root, src, Context{}, func(n *Node, ctx Context) bool {
		if n.Kind == KindCall {
			got[n.ChildByField("name").Text(src)] = ctx
		}
		return true
	})

	if c := got["nested"]; c.Method != "run" || c.LoopDepth != 0 {
		t.Errorf("nested ctx = %+v; want run at depth 0", c)
	}
	if c := got["direct"]; c.Method != "outer" || c.LoopDepth != 1 {
		t.Errorf("direct ctx = %+v; want outer at depth 1 (restored after run)", c)
	}
}

func TestEnclosingMethod(t *testing.T) {
	src := "class A {\n  Integer f = 1;\n  void go() { stop(); }\n}\n"
	root := mustParse(t, src)

	if got := EnclosingMethod(root, src, strings.Index(src, "stop")); got != "go" {
		t.Errorf("EnclosingMethod(stop) = %q; want go", got)
	}
	if got := EnclosingMethod(root, src, strings.Index(src, "f = 1")); got != "" {
		t.Errorf("EnclosingMethod(field) = %q; want empty", got)
	}
}

// ---------------------------------------------------------------------------
// MethodName fallbacks
// ---------------------------------------------------------------------------

func TestMethodNameFallbacks(t *testing.T) {
	t.Run("identifier before params", func(t *testing.T) {
		src := "public void process(Integer x) {}"
		decl := span(src, src, KindMethod, "",
			span(src, "process", KindIdentifier, ""),
			span(src, "(Integer x)", KindParams, "parameters"),
		)
		if got := MethodName(decl, src); got != "process" {
			t.Errorf("MethodName = %q; want process", got)
		}
	})

	t.Run("name inside params text", func(t *testing.T) {
		src := "public void handle(String s) {}"
		decl := span(src, src, KindMethod, "",
			span(src, "handle(String s)", KindParams, ""),
		)
		if got := MethodName(decl, src); got != "handle" {
			t.Errorf("MethodName = %q; want handle", got)
		}
	})

	t.Run("declaration text before params", func(t *testing.T) {
		src := "global static Integer compute (Integer a) {}"
		decl := span(src, src, KindMethod, "",
			span(src, "(Integer a)", KindParams, ""),
		)
		if got := MethodName(decl, src); got != "compute" {
			t.Errorf("MethodName = %q; want compute", got)
		}
	})

	t.Run("empty name field falls through", func(t *testing.T) {
		src := "void  run() {}"
		decl := span(src, src, KindMethod, "",
			&Node{Kind: KindIdentifier, Field: "name", Start: 5, End: 5},
			span(src, "()", KindParams, ""),
		)
		if got := MethodName(decl, src); got != "run" {
			t.Errorf("MethodName = %q; want run", got)
		}
	})

	t.Run("unrecoverable", func(t *testing.T) {
		src := "{}"
		if got := MethodName(span(src, src, KindMethod, ""), src); got != "" {
			t.Errorf("MethodName = %q; want empty", got)
		}
		if got := MethodName(nil, src); got != "" {
			t.Errorf("MethodName(nil) = %q", got)
		}
	})
}

// ---------------------------------------------------------------------------
// Snippet
// ---------------------------------------------------------------------------

func TestSnippet(t *testing.T) {
	src := "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\nl9\r\nl10"
	tests := []struct {
		line, before, after int
		want                string
	}{
		{5, 3, 3, "l2\nl3\nl4\nl5\nl6\nl7\nl8"},
		{1, 3, 3, "l1\nl2\nl3\nl4"},
		{10, 3, 3, "l7\nl8\nl9\nl10"},
		{5, 0, 0, "l5"},
		{0, 3, 3, ""},
		{11, 3, 3, ""},
	}
	for _, tt := range tests {
		if got := Snippet(src, tt.line, tt.before, tt.after); got != tt.want {
			t.Errorf("Snippet(line %d) = %q; want %q", tt.line, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Query extraction
// ---------------------------------------------------------------------------

func TestExtractQueriesDynamic(t *testing.T) {
	src := `class Repo {
  void load(String name, String soql) {
    List<Account> all = Database.query('SELECT Id, Name FROM Account');
    for (Integer i = 0; i < 5; i++) {
      Database.query('SELECT Id FROM Contact WHERE Name = \'' + name + '\' LIMIT 1');
    }
    Database.query(soql);
    Other.query('SELECT Id FROM Lead');
  }
}`
	root := mustParse(t, src)

	qs, err := ExtractQueries(root, src)
	if err != nil {
		t.Fatalf("ExtractQueries: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("got %d queries; want 2: %+v", len(qs), qs)
	}

	first := qs[0]
	if first.Text != "SELECT Id, Name FROM Account" || first.Line != 3 || first.MethodName != "load" {
		t.Errorf("first = %+v", first)
	}
	if !first.Dynamic || first.Partial || first.InLoop || first.HasWhere || first.HasLimit || !first.IsSOQL() {
		t.Errorf("first flags = %+v", first)
	}

	second := qs[1]
	if second.Text != "SELECT Id FROM Contact WHERE Name = '"+DynamicPlaceholder+"' LIMIT 1" {
		t.Errorf("second text = %q", second.Text)
	}
	if !second.InLoop || !second.Partial || !second.HasWhere || !second.HasLimit || second.Line != 5 {
		t.Errorf("second flags = %+v", second)
	}
}

func TestExtractQueriesInline(t *testing.T) {
	src := "class C {\n  void m() {\n    for (Account a : [SELECT Id FROM Account]) {\n      x = [select Id from Contact where AccountId = :a.Id limit 1];\n    }\n    r = [FIND 'acme' IN ALL FIELDS RETURNING Account];\n  }\n}"

	outer := span(src, "[SELECT Id FROM Account]", KindQuery, "value")
	inner := span(src, "[select Id from Contact where AccountId = :a.Id limit 1]", KindQuery, "right")
	sosl := span(src, "[FIND 'acme' IN ALL FIELDS RETURNING Account]", KindQuery, "right")
	loop := span(src, "for (Account a : [SELECT Id FROM Account]) {\n      x = [select Id from Contact where AccountId = :a.Id limit 1];\n    }", KindLoop, "",
		outer,
		span(src, "{\n      x =", KindOther, "body", inner),
	)
	method := span(src, "void m() {", KindMethod, "",
		span(src, "m", KindIdentifier, "name"),
		loop,
		sosl,
	)
	method.End = len(src) - 2
	root := span(src, src, KindClass, "", method)

	qs, err := ExtractQueries(root, src)
	if err != nil {
		t.Fatalf("ExtractQueries: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("got %d queries; want 3", len(qs))
	}

	if qs[0].InLoop || qs[0].HasWhere || qs[0].Line != 3 || qs[0].Dynamic {
		t.Errorf("for-each source query = %+v; want outside the loop", qs[0])
	}
	if !qs[1].InLoop || !qs[1].HasWhere || !qs[1].HasLimit || qs[1].Line != 4 || qs[1].MethodName != "m" {
		t.Errorf("body query = %+v", qs[1])
	}
	if !qs[2].SOSL || qs[2].IsSOQL() {
		t.Errorf("FIND query should be SOSL: %+v", qs[2])
	}
	if qs[1].Text != "[select Id from Contact where AccountId = :a.Id limit 1]" {
		t.Errorf("text not preserved: %q", qs[1].Text)
	}
}

func TestUnquote(t *testing.T) {
	tests := []struct{ in, want string }{
		{`'plain'`, "plain"},
		{`'it\'s'`, "it's"},
		{`'a\nb'`, "a\nb"},
		{`"double"`, "double"},
		{`'trailing\`, `'trailing\`},
		{`noquotes`, "noquotes"},
	}
	for _, tt := range tests {
		if got := Unquote(tt.in); got != tt.want {
			t.Errorf("Unquote(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindOf("enhanced_for_statement") != KindLoop || KindOf("query_expression") != KindQuery {
		t.Error("node type table is missing loop or query entries")
	}
	if KindOf("something_else") != KindOther {
		t.Error("unknown types must map to KindOther")
	}
	if KindLoop.String() != "loop" || Kind(200).String() != "unknown" {
		t.Error("Kind.String mismatch")
	}
}
