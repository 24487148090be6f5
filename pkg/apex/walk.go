package apex

import (
	"regexp"
	"strings"
)

// Context is the traversal state threaded down the tree. It is passed by
// value, so a child's changes never leak back to its parent or siblings.
type Context struct {
	// Method is the innermost enclosing method, "" outside any method or
	// when the name cannot be recovered.
	Method string
	// LoopDepth counts the enclosing loop bodies within that method.
	LoopDepth int
}

// InLoop reports whether the current node runs once per loop iteration.
func (c Context) InLoop() bool { return c.LoopDepth > 0 }

// Visitor is called for every node with the context in effect at that node.
// Returning false skips the node's children.
type Visitor func(n *Node, ctx Context) bool

// loopHeaderFields are loop parts evaluated once rather than per iteration:
// a classic for's initializer and a for-each's collection expression.
var loopHeaderFields = map[string]bool{
	"init":  true,
	"value": true,
}

// Walk visits root and its descendants in source order.
//
// Entering a method sets Context.Method and resets LoopDepth: a method
// declared inside a loop (in an inner or anonymous class) does not run per
// iteration. Children of a loop get LoopDepth+1, except the loop header.
func Walk(root *Node, src string, ctx Context, visit Visitor) {
	if root == nil {
		return
	}
	if root.Kind == KindMethod {
		ctx = Context{Method: MethodName(root, src)}
	}
	if !visit(root, ctx) {
		return
	}

	for _, c := range root.Children {
		childCtx := ctx
		if root.Kind == KindLoop && !loopHeaderFields[c.Field] {
			childCtx.LoopDepth++
		}
		Walk(c, src, childCtx, visit)
	}
}

var (
	reLeadingName  = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	reTrailingName = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*$`)
)

// MethodName recovers a method or constructor name on a best-effort basis.
//
// The declaration's "name" field is used when present and non-empty.
// Otherwise the parameter list is located among the children and the name
// is taken from, in order: a leading identifier inside the parameter text,
// the nearest identifier child before it, or the identifier ending the
// declaration text just before it. Returns "" when all of these fail.
func MethodName(decl *Node, src string) string {
	if decl == nil {
		return ""
	}
	if name := strings.TrimSpace(decl.ChildByField("name").Text(src)); name != "" {
		return name
	}

	for i, c := range decl.Children {
		if c.Kind != KindParams {
			continue
		}
		if m := reLeadingName.FindStringSubmatch(c.Text(src)); m != nil {
			return m[1]
		}
		for j := i - 1; j >= 0; j-- {
			if prev := decl.Children[j]; prev.Kind == KindIdentifier {
				if name := strings.TrimSpace(prev.Text(src)); name != "" {
					return name
				}
			}
		}
		if c.Start >= decl.Start && c.Start <= len(src) {
			if m := reTrailingName.FindStringSubmatch(src[decl.Start:c.Start]); m != nil {
				return m[1]
			}
		}
		break
	}
	return ""
}

// EnclosingMethod returns the name of the innermost method containing the
// byte offset pos, or "" when pos lies outside every method.
func EnclosingMethod(root *Node, src string, pos int) string {
	name := ""
	Walk(root, src, Context{}, func(n *Node, ctx Context) bool {
		if pos < n.Start || pos >= n.End {
			return false
		}
		name = ctx.Method
		return true
	})
	return name
}
