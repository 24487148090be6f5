package apex

import (
	"regexp"
	"strings"
)

// The Java grammar has no inline query syntax, so `[SELECT ...]` and
// `[FIND ...]` come back as ERROR nodes or scattered tokens. Under that
// grammar the literals are found in the source text and grafted into the
// tree as KindQuery nodes, which keeps the query detectors working.

var reInlineQueryStart = regexp.MustCompile(`(?i)^\[\s*(select|find)\b`)

// inlineQuerySpans returns the byte ranges of bracketed SELECT and FIND
// literals, skipping comments and single-quoted strings.
func inlineQuerySpans(src string) [][2]int {
	var spans [][2]int
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '\'':
			i = closingQuote(src, i)
		case '/':
			if i+1 >= len(src) {
				continue
			}
			switch src[i+1] {
			case '/':
				j := strings.IndexByte(src[i:], '\n')
				if j < 0 {
					return spans
				}
				i += j
			case '*':
				j := strings.Index(src[i+2:], "*/")
				if j < 0 {
					return spans
				}
				i += j + 3
			}
		case '[':
			if !reInlineQueryStart.MatchString(src[i:min(len(src), i+256)]) {
				continue
			}
			end := closingBracket(src, i)
			if end < 0 {
				continue
			}
			spans = append(spans, [2]int{i, end + 1})
			i = end
		}
	}
	return spans
}

// closingQuote returns the index of the quote ending the string that
// opens at i, or the last index when it is unterminated.
func closingQuote(src string, i int) int {
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case '\'':
			return j
		}
	}
	return len(src) - 1
}

// closingBracket returns the index of the ']' matching the '[' at i, or -1.
func closingBracket(src string, i int) int {
	depth := 0
	for j := i; j < len(src); j++ {
		switch src[j] {
		case '\'':
			j = closingQuote(src, j)
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// graftInlineQueries adds a KindQuery node for every inline literal the
// tree does not already hold and returns how many were added.
func graftInlineQueries(root *Node, src string) int {
	if root == nil {
		return 0
	}
	n := 0
	for _, sp := range inlineQuerySpans(src) {
		if graftQuery(root, src, sp[0], sp[1]) {
			n++
		}
	}
	return n
}

func graftQuery(root *Node, src string, start, end int) bool {
	if root.Start > start || root.End < end {
		return false
	}

	// Descend to the smallest node strictly containing the literal.
	chain := []*Node{root}
	for {
		cur := chain[len(chain)-1]
		if !canHoldQuery(cur) {
			return false
		}
		var next *Node
		for _, c := range cur.Children {
			if c.Start <= start && end <= c.End && c.End-c.Start > end-start {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		chain = append(chain, next)
	}
	container := chain[len(chain)-1]
	for _, c := range container.Children {
		if c.Kind == KindQuery && c.Start == start && c.End == end {
			return false
		}
	}
	prune(container, start, end)

	q := &Node{
		Kind:  KindQuery,
		Type:  "query_expression",
		Start: start,
		End:   end,
		Line:  strings.Count(src[:start], "\n") + 1,
	}

	// for (T x : [SELECT ...]) runs the query once, as the loop header.
	if before, after := prevNonSpace(src, start), nextNonSpace(src, end); before == ':' && after == ')' {
		for i := len(chain) - 1; i >= 0; i-- {
			if chain[i].Kind == KindLoop {
				q.Field = "value"
				insertChild(chain[i], q)
				return true
			}
		}
	}

	if d := pendingDeclarator(root, src, start); d != nil {
		q.Field = "value"
		insertChild(d, q)
		d.End = max(d.End, end)
		return true
	}
	insertChild(container, q)
	return true
}

func canHoldQuery(n *Node) bool {
	return n.Kind != KindQuery && n.Kind != KindString && !strings.Contains(n.Type, "comment")
}

// prune drops every descendant of n lying entirely inside [start, end).
func prune(n *Node, start, end int) {
	kept := n.Children[:0]
	for _, c := range n.Children {
		switch {
		case c.Start >= start && c.End <= end:
		case c.End <= start || c.Start >= end:
			kept = append(kept, c)
		default:
			prune(c, start, end)
			kept = append(kept, c)
		}
	}
	n.Children = kept
}

// pendingDeclarator finds `name =` immediately before pos whose declarator
// has no usable value.
func pendingDeclarator(root *Node, src string, pos int) *Node {
	var found *Node
	root.Inspect(func(n *Node) bool {
		if found != nil || n.Start > pos {
			return false
		}
		if n.Kind != KindDeclarator {
			return true
		}
		name := n.ChildByField("name")
		if name == nil || name.End > pos || strings.TrimSpace(src[name.End:pos]) != "=" {
			return true
		}
		if v := n.ChildByField("value"); v != nil {
			if v.Kind != KindError && v.Start != v.End {
				return true
			}
			removeChild(n, v)
		}
		found = n
		return false
	})
	return found
}

func insertChild(parent, child *Node) {
	i := 0
	for i < len(parent.Children) && parent.Children[i].Start <= child.Start {
		i++
	}
	parent.Children = append(parent.Children, nil)
	copy(parent.Children[i+1:], parent.Children[i:])
	parent.Children[i] = child
}

func removeChild(parent, child *Node) {
	for i, c := range parent.Children {
		if c == child {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			return
		}
	}
}

func prevNonSpace(src string, i int) byte {
	for i--; i >= 0; i-- {
		if !isSpace(src[i]) {
			return src[i]
		}
	}
	return 0
}

func nextNonSpace(src string, i int) byte {
	for ; i < len(src); i++ {
		if !isSpace(src[i]) {
			return src[i]
		}
	}
	return 0
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
