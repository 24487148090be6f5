// Package apex turns Apex source into a small, closed syntax tree and
// extracts the facts the antipattern detectors work from.
//
// Grammar node types are folded into a fixed set of Kinds by one table, so
// callers switch over Kind and recurse into everything else. The tree is
// produced by tree-sitter (the sfapex grammar, or the Java grammar as a
// structural fallback) but holds no reference to it once built.
package apex

import "strings"

// Kind is the variant of a Node.
type Kind uint8

const (
	KindOther Kind = iota
	KindClass
	KindMethod
	KindParams
	KindIdentifier
	KindLoop
	KindCall
	KindQuery
	KindDML
	KindString
	KindLocalVar
	KindDeclarator
	KindFieldAccess
	KindReturn
	KindArguments
	KindBinary
	KindError
)

var kindNames = [...]string{
	KindOther:       "other",
	KindClass:       "class",
	KindMethod:      "method",
	KindParams:      "params",
	KindIdentifier:  "identifier",
	KindLoop:        "loop",
	KindCall:        "call",
	KindQuery:       "query",
	KindDML:         "dml",
	KindString:      "string",
	KindLocalVar:    "local_var",
	KindDeclarator:  "declarator",
	KindFieldAccess: "field_access",
	KindReturn:      "return",
	KindArguments:   "arguments",
	KindBinary:      "binary",
	KindError:       "error",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// nodeKinds maps grammar node types to kinds. sfapex reuses the Java
// grammar's names for everything the two languages share.
var nodeKinds = map[string]Kind{
	"class_declaration":     KindClass,
	"interface_declaration": KindClass,
	"enum_declaration":      KindClass,
	"trigger_declaration":   KindClass,

	"method_declaration":      KindMethod,
	"constructor_declaration": KindMethod,
	"formal_parameters":       KindParams,

	"identifier": KindIdentifier,

	"for_statement":          KindLoop,
	"enhanced_for_statement": KindLoop,
	"while_statement":        KindLoop,
	"do_statement":           KindLoop,

	"method_invocation": KindCall,
	"query_expression":  KindQuery,
	"dml_expression":    KindDML,
	"dml_statement":     KindDML,

	"string_literal":    KindString,
	"character_literal": KindString, // single-quoted strings under the Java grammar

	"local_variable_declaration": KindLocalVar,
	"variable_declarator":        KindDeclarator,
	"field_access":               KindFieldAccess,
	"return_statement":           KindReturn,
	"argument_list":              KindArguments,
	"binary_expression":          KindBinary,

	"ERROR": KindError,
}

// KindOf returns the kind for a grammar node type.
func KindOf(nodeType string) Kind {
	if k, ok := nodeKinds[nodeType]; ok {
		return k
	}
	return KindOther
}

// Node is one named node of the syntax tree.
type Node struct {
	Kind  Kind
	Type  string // grammar node type
	Field string // field name under the parent, "" when unnamed
	Start int    // byte offset
	End   int    // byte offset, exclusive
	Line  int    // 1-indexed line of the first byte

	Children []*Node
}

// Text returns the node's source text.
func (n *Node) Text(src string) string {
	if n == nil || n.Start < 0 || n.End > len(src) || n.Start > n.End {
		return ""
	}
	return src[n.Start:n.End]
}

// ChildByField returns the first child stored under field.
func (n *Node) ChildByField(field string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Field == field {
			return c
		}
	}
	return nil
}

// FirstChild returns the first child of kind k.
func (n *Node) FirstChild(k Kind) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Kind == k {
			return c
		}
	}
	return nil
}

// Inspect visits n and its descendants in source order. Children are
// skipped when fn returns false.
func (n *Node) Inspect(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Inspect(fn)
	}
}

// HasError reports whether the subtree contains an ERROR node.
func (n *Node) HasError() bool {
	found := false
	n.Inspect(func(c *Node) bool {
		if c.Kind == KindError {
			found = true
		}
		return !found
	})
	return found
}

// Snippet returns the raw source lines from line-before to line+after,
// clipped to the file. Lines are 1-indexed. An out-of-range line yields "".
func Snippet(src string, line, before, after int) string {
	lines := strings.Split(src, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	from := max(line-max(before, 0), 1)
	to := min(line+max(after, 0), len(lines))

	window := make([]string, 0, to-from+1)
	for _, l := range lines[from-1 : to] {
		window = append(window, strings.TrimSuffix(l, "\r"))
	}
	return strings.Join(window, "\n")
}
