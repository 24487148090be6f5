package detectors

import (
	"sort"
	"strings"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/apex"
	"github.com/jmylchreest/apexlens/pkg/soql"
)

// SOQLUnusedFields flags fields selected by a query but never read.
//
// Only queries assigned to a local variable are checked, and only when
// every later use of that variable is a field access (acc.Name,
// acc.Owner.Email). Returning the variable, passing it to a call or DML,
// iterating it or reassigning it means the fields may be read elsewhere,
// so the query is left alone.
type SOQLUnusedFields struct {
	provider apex.TreeProvider
	opts     Options
}

// NewSOQLUnusedFields creates the detector.
func NewSOQLUnusedFields(provider apex.TreeProvider, opts Options) *SOQLUnusedFields {
	return &SOQLUnusedFields{provider: provider, opts: opts.withDefaults()}
}

// Kind implements antipattern.Detector.
func (d *SOQLUnusedFields) Kind() antipattern.Kind { return antipattern.KindSOQLUnusedFields }

// Detect implements antipattern.Detector.
func (d *SOQLUnusedFields) Detect(className, source string) ([]antipattern.Finding, error) {
	root, err := parse(d.provider, source)
	if err != nil {
		return nil, err
	}

	var findings []antipattern.Finding
	err = guard(func() {
		apex.Walk(root, source, apex.Context{}, func(n *apex.Node, ctx apex.Context) bool {
			if n.Kind != apex.KindMethod {
				return true
			}
			for _, a := range assignedQueries(n, source) {
				if f, ok := d.check(a, n, source); ok {
					f.ClassName = className
					f.MethodName = ctx.Method
					findings = append(findings, f)
				}
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Line < findings[j].Line })
	return findings, nil
}

// assignment is a query whose result is stored in a local variable.
type assignment struct {
	variable string
	name     *apex.Node // declarator name, excluded from the usage scan
	query    *apex.Node
	text     string
}

// assignedQueries finds `T v = <query>;` declarations directly inside
// method, not inside nested methods or classes.
func assignedQueries(method *apex.Node, src string) []assignment {
	var out []assignment
	method.Inspect(func(n *apex.Node) bool {
		if n != method && (n.Kind == apex.KindMethod || n.Kind == apex.KindClass) {
			return false
		}
		if n.Kind != apex.KindDeclarator {
			return true
		}
		name := n.ChildByField("name")
		value := n.ChildByField("value")
		if name == nil || value == nil {
			return true
		}

		var text string
		switch value.Kind {
		case apex.KindQuery:
			text = value.Text(src)
		case apex.KindCall:
			t, ok := apex.DynamicQueryText(value, src)
			if !ok || strings.Contains(t, apex.DynamicPlaceholder) {
				return true
			}
			text = t
		default:
			return true
		}
		out = append(out, assignment{
			variable: strings.TrimSpace(name.Text(src)),
			name:     name,
			query:    value,
			text:     text,
		})
		return true
	})
	return out
}

func (d *SOQLUnusedFields) check(a assignment, method *apex.Node, src string) (antipattern.Finding, bool) {
	if !soql.IsValidSOQL(a.text) || soql.HasNestedQueries(a.text) {
		return antipattern.Finding{}, false
	}
	selected := soql.ExtractFields(a.text)
	for _, f := range selected {
		if strings.ContainsAny(f, "( ") {
			return antipattern.Finding{}, false
		}
	}

	used, ok := fieldUses(method, src, a)
	if !ok || len(used) == 0 {
		return antipattern.Finding{}, false
	}

	candidates := make(map[string]struct{}, len(selected))
	for _, f := range selected {
		candidates[soql.FieldKey(f)] = struct{}{}
	}
	soql.ExcludeSystemFields(candidates)

	var unused []string
	for _, f := range selected {
		key := soql.FieldKey(f)
		if _, ok := candidates[key]; !ok {
			continue
		}
		if _, ok := used[key]; !ok {
			unused = append(unused, f)
		}
	}
	if len(unused) == 0 {
		return antipattern.Finding{}, false
	}

	md := map[string]string{
		"variable":      a.variable,
		"unused_fields": strings.Join(unused, ", "),
	}
	if obj, ok := soql.ExtractObjectName(a.text); ok {
		md["object"] = obj
	}
	if rewritten := soql.RemoveUnusedFields(a.text, unused, selected); rewritten != "" {
		md["suggested_query"] = soql.FormatQueryForDisplay(rewritten, d.opts.MaxQueryLength)
	}

	return antipattern.Finding{
		Line:     a.query.Line,
		Snippet:  soql.FormatQueryForDisplay(a.text, d.opts.MaxQueryLength),
		Severity: antipattern.SevMinor,
		Metadata: md,
	}, true
}

// fieldUses collects the lower-cased field paths read through a.variable in
// method. Every prefix of a path counts as used, so acc.Owner.Email marks
// both owner and owner.email. ok is false when the variable escapes.
func fieldUses(method *apex.Node, src string, a assignment) (used map[string]struct{}, ok bool) {
	used = make(map[string]struct{})
	ok = true
	prefix := strings.ToLower(a.variable) + "."

	method.Inspect(func(n *apex.Node) bool {
		if !ok || n == a.name || n.End <= a.query.Start {
			return false
		}
		switch n.Kind {
		case apex.KindFieldAccess:
			path := strings.ToLower(strings.Join(strings.Fields(n.Text(src)), ""))
			if !strings.HasPrefix(path, prefix) || !chainRootedAt(n, src, a.variable) {
				return true
			}
			parts := strings.Split(strings.TrimPrefix(path, prefix), ".")
			for i := range parts {
				used[strings.Join(parts[:i+1], ".")] = struct{}{}
			}
			return false
		case apex.KindIdentifier:
			if strings.EqualFold(strings.TrimSpace(n.Text(src)), a.variable) {
				ok = false
			}
		}
		return ok
	})
	return used, ok
}

// chainRootedAt reports whether the innermost object of a field access
// chain is the identifier name.
func chainRootedAt(n *apex.Node, src, name string) bool {
	for n != nil && n.Kind == apex.KindFieldAccess {
		n = n.ChildByField("object")
	}
	return n != nil && n.Kind == apex.KindIdentifier && strings.EqualFold(strings.TrimSpace(n.Text(src)), name)
}
