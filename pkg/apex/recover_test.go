package apex

import (
	"reflect"
	"strings"
	"testing"
)

// =============================================================================
// Inline query spans
// =============================================================================

func TestInlineQuerySpans(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"select", "x = [SELECT Id FROM Account];", []string{"[SELECT Id FROM Account]"}},
		{"lower case and spacing", "x = [ \n select Id from Contact ];", []string{"[ \n select Id from Contact ]"}},
		{"find", "r = [FIND 'acme' IN ALL FIELDS RETURNING Account];", []string{"[FIND 'acme' IN ALL FIELDS RETURNING Account]"}},
		{"bracket inside string literal", "x = [SELECT Id FROM Account WHERE Name = 'a]b'];", []string{"[SELECT Id FROM Account WHERE Name = 'a]b']"}},
		{"two queries", "a = [SELECT Id FROM A]; b = [SELECT Id FROM B];", []string{"[SELECT Id FROM A]", "[SELECT Id FROM B]"}},
		{"array access", "x = ids[0]; y = rows[selected];", nil},
		{"in string", "s = '[SELECT Id FROM Account]';", nil},
		{"in line comment", "// [SELECT Id FROM Account]\nx = 1;", nil},
		{"in block comment", "/* [SELECT Id\n FROM Account] */ x = 1;", nil},
		{"unterminated", "x = [SELECT Id FROM Account", nil},
		{"selector is not select", "x = [selectors];", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, sp := range inlineQuerySpans(tt.src) {
				got = append(got, tt.src[sp[0]:sp[1]])
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("spans = %q; want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Grafting into a tree
// =============================================================================

func TestGraftIntoDeclarator(t *testing.T) {
	src := "class C {\n  void m() {\n    List<Account> accs = [SELECT Id, Name FROM Account];\n  }\n}"
	query := "[SELECT Id, Name FROM Account]"

	name := span(src, "accs", KindIdentifier, "name")
	decl := span(src, "accs =", KindDeclarator, "", name)
	junk := span(src, "[SELECT Id, Name", KindError, "",
		span(src, "SELECT", KindIdentifier, ""),
		span(src, "Name", KindIdentifier, ""),
	)
	local := span(src, "List<Account> accs = "+query+";", KindLocalVar, "", decl, junk)
	method := span(src, "void m() {", KindMethod, "", span(src, "m", KindIdentifier, "name"), local)
	method.End = len(src) - 2
	root := span(src, src, KindClass, "", method)

	if n := graftInlineQueries(root, src); n != 1 {
		t.Fatalf("grafted %d queries; want 1", n)
	}

	value := decl.ChildByField("value")
	if value == nil || value.Kind != KindQuery {
		t.Fatalf("declarator value = %+v; want the query", value)
	}
	if got := value.Text(src); got != query {
		t.Errorf("query text = %q; want %q", got, query)
	}
	if value.Line != 3 {
		t.Errorf("Line = %d; want 3", value.Line)
	}
	root.Inspect(func(n *Node) bool {
		if n.Kind == KindIdentifier && n.Start >= value.Start && n.End <= value.End {
			t.Errorf("token %q inside the literal survived", n.Text(src))
		}
		return true
	})

	qs, err := ExtractQueries(root, src)
	if err != nil {
		t.Fatalf("ExtractQueries: %v", err)
	}
	if len(qs) != 1 || qs[0].MethodName != "m" || qs[0].HasWhere || qs[0].InLoop {
		t.Errorf("queries = %+v", qs)
	}
}

func TestGraftForEachHeader(t *testing.T) {
	src := "class C {\n  void m() {\n    for (Account a : [SELECT Id FROM Account]) {\n      Contact c = [SELECT Id FROM Contact];\n    }\n  }\n}"

	header := span(src, ": [SELECT Id FROM Account])", KindError, "")
	body := span(src, "{\n      Contact c", KindOther, "body")
	body.End = strings.Index(src, "}\n  }")
	loop := span(src, "for (Account a", KindLoop, "", header, body)
	loop.End = body.End + 1
	method := span(src, "void m() {", KindMethod, "", span(src, "m", KindIdentifier, "name"), loop)
	method.End = len(src) - 2
	root := span(src, src, KindClass, "", method)

	if n := graftInlineQueries(root, src); n != 2 {
		t.Fatalf("grafted %d queries; want 2", n)
	}
	qs, err := ExtractQueries(root, src)
	if err != nil {
		t.Fatalf("ExtractQueries: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("got %d queries; want 2", len(qs))
	}
	if qs[0].InLoop {
		t.Errorf("for-each collection query reported inside the loop: %+v", qs[0])
	}
	if !qs[1].InLoop || qs[1].Line != 4 {
		t.Errorf("body query = %+v; want in loop on line 4", qs[1])
	}
}

func TestGraftKeepsExistingQueries(t *testing.T) {
	src := "class C { void m() { x = [SELECT Id FROM Account]; } }"
	q := span(src, "[SELECT Id FROM Account]", KindQuery, "right")
	method := span(src, "void m() { x = [SELECT Id FROM Account]; }", KindMethod, "", q)
	root := span(src, src, KindClass, "", method)

	if n := graftInlineQueries(root, src); n != 0 {
		t.Errorf("grafted %d queries over an existing one", n)
	}
	if len(method.Children) != 1 || method.Children[0] != q {
		t.Errorf("children changed: %+v", method.Children)
	}
}

func TestGraftSkipsStringNodes(t *testing.T) {
	src := "class C { String s = \"[SELECT Id FROM Account]\"; }"
	str := span(src, "\"[SELECT Id FROM Account]\"", KindString, "value")
	root := span(src, src, KindClass, "", str)

	if n := graftInlineQueries(root, src); n != 0 {
		t.Errorf("grafted %d queries inside a string node", n)
	}
}

// =============================================================================
// Java grammar
// =============================================================================

func TestParseJavaRecoversInlineQueries(t *testing.T) {
	src := "public class Demo {\n  public void load() {\n    List<Account> accs = [SELECT Id, Name, Phone FROM Account];\n  }\n}\n"
	root := mustParse(t, src)

	qs, err := ExtractQueries(root, src)
	if err != nil {
		t.Fatalf("ExtractQueries: %v", err)
	}
	if len(qs) != 1 {
		t.Fatalf("got %d queries; want 1", len(qs))
	}
	q := qs[0]
	if q.Text != "[SELECT Id, Name, Phone FROM Account]" {
		t.Errorf("Text = %q", q.Text)
	}
	if q.Line != 3 || q.HasWhere || q.HasLimit || q.SOSL || q.Dynamic {
		t.Errorf("query = %+v", q)
	}
}
