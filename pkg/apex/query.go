package apex

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/apexlens/pkg/soql"
)

// DynamicPlaceholder stands in for non-literal parts of a concatenated
// dynamic query string.
const DynamicPlaceholder = ":?"

// dynamicQueryMethods are the Database methods whose first argument is
// query text.
var dynamicQueryMethods = map[string]bool{
	"query":               true,
	"querywithbinds":      true,
	"countquery":          true,
	"countquerywithbinds": true,
}

// QueryInfo describes one embedded query literal.
type QueryInfo struct {
	Text       string // as written; for dynamic queries the reconstructed string
	MethodName string // "" outside any method
	Line       int
	HasWhere   bool
	HasLimit   bool
	Dynamic    bool // Database.query(...) argument rather than [ ... ]
	Partial    bool // dynamic text with non-literal parts replaced by DynamicPlaceholder
	SOSL       bool // FIND search rather than a SELECT query
	InLoop     bool

	// Node is the query expression, or the Database call for dynamic queries.
	Node *Node
}

// IsSOQL reports whether the text is a SELECT ... FROM query.
func (q QueryInfo) IsSOQL() bool { return !q.SOSL }

// ExtractQueries returns one QueryInfo per inline query and per
// Database.query call with recoverable string text, in source order.
// Panics while walking the tree are returned as errors.
func ExtractQueries(root *Node, src string) (queries []QueryInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			queries, err = nil, fmt.Errorf("apex: extracting queries: %v", r)
		}
	}()

	Walk(root, src, Context{}, func(n *Node, ctx Context) bool {
		switch n.Kind {
		case KindQuery:
			queries = append(queries, newQueryInfo(n.Text(src), n, ctx, false))
			return false
		case KindCall:
			if text, ok := DynamicQueryText(n, src); ok {
				queries = append(queries, newQueryInfo(text, n, ctx, true))
			}
		}
		return true
	})
	return queries, nil
}

func newQueryInfo(text string, n *Node, ctx Context, dynamic bool) QueryInfo {
	clauses := soql.Clauses(text)
	return QueryInfo{
		Text:       text,
		MethodName: ctx.Method,
		Line:       n.Line,
		HasWhere:   clauses.Where,
		HasLimit:   clauses.Limit,
		Dynamic:    dynamic,
		Partial:    dynamic && strings.Contains(text, DynamicPlaceholder),
		SOSL:       !soql.IsValidSOQL(text),
		InLoop:     ctx.InLoop(),
		Node:       n,
	}
}

// IsDatabaseCall reports whether call is Database.<method>(...) for one of
// the given lower-cased method names.
func IsDatabaseCall(call *Node, src string, methods map[string]bool) bool {
	if call == nil || call.Kind != KindCall {
		return false
	}
	obj := call.ChildByField("object")
	name := call.ChildByField("name")
	if obj == nil || name == nil {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(obj.Text(src)), "Database") {
		return false
	}
	return methods[strings.ToLower(strings.TrimSpace(name.Text(src)))]
}

// DynamicQueryText recovers the query string passed to Database.query and
// friends. String concatenation is followed: literal parts are joined and
// every other operand becomes DynamicPlaceholder. ok is false when the call
// is not a dynamic query or its first argument has no literal text.
func DynamicQueryText(call *Node, src string) (text string, ok bool) {
	if !IsDatabaseCall(call, src, dynamicQueryMethods) {
		return "", false
	}
	args := call.ChildByField("arguments")
	if args == nil || len(args.Children) == 0 {
		return "", false
	}

	var b strings.Builder
	literal := false
	var collect func(n *Node)
	collect = func(n *Node) {
		switch {
		case n.Kind == KindString:
			b.WriteString(Unquote(n.Text(src)))
			literal = true
		case n.Kind == KindBinary && isConcat(n, src):
			for _, c := range n.Children {
				collect(c)
			}
		default:
			b.WriteString(DynamicPlaceholder)
		}
	}
	collect(args.Children[0])

	if !literal {
		return "", false
	}
	return b.String(), true
}

// isConcat reports whether a binary expression is a '+'. The operator is an
// anonymous token, so it is read from the text between the operands.
func isConcat(n *Node, src string) bool {
	left := n.ChildByField("left")
	right := n.ChildByField("right")
	if left == nil || right == nil || left.End > right.Start || right.Start > len(src) {
		return false
	}
	return strings.TrimSpace(src[left.End:right.Start]) == "+"
}

// Unquote strips the quotes of an Apex string literal and resolves its
// escapes. Unknown escapes keep the escaped character.
func Unquote(lit string) string {
	if len(lit) >= 2 && (lit[0] == '\'' || lit[0] == '"') && lit[len(lit)-1] == lit[0] {
		lit = lit[1 : len(lit)-1]
	}
	if !strings.Contains(lit, `\`) {
		return lit
	}

	var b strings.Builder
	for i := 0; i < len(lit); i++ {
		c := lit[i]
		if c != '\\' || i+1 == len(lit) {
			b.WriteByte(c)
			continue
		}
		i++
		switch lit[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(lit[i])
		}
	}
	return b.String()
}
