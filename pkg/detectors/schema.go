package detectors

import (
	"strconv"
	"strings"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/apex"
)

// SchemaGlobalDescribe flags Schema.getGlobalDescribe() calls. The call
// builds a describe map of every object in the org, which is slow and
// counts against CPU limits; inside a loop it is repeated per iteration.
type SchemaGlobalDescribe struct {
	provider apex.TreeProvider
	opts     Options

	// Receiver and Method name the disallowed call.
	Receiver string
	Method   string
}

// NewSchemaGlobalDescribe creates the detector.
func NewSchemaGlobalDescribe(provider apex.TreeProvider, opts Options) *SchemaGlobalDescribe {
	return &SchemaGlobalDescribe{
		provider: provider,
		opts:     opts.withDefaults(),
		Receiver: "Schema",
		Method:   "getGlobalDescribe",
	}
}

// Kind implements antipattern.Detector.
func (d *SchemaGlobalDescribe) Kind() antipattern.Kind { return antipattern.KindSchemaGlobalDescribe }

// Detect implements antipattern.Detector. Calls outside loops are Major,
// calls inside any loop Critical.
func (d *SchemaGlobalDescribe) Detect(className, source string) ([]antipattern.Finding, error) {
	root, err := parse(d.provider, source)
	if err != nil {
		return nil, err
	}

	var findings []antipattern.Finding
	err = guard(func() {
		apex.Walk(root, source, apex.Context{}, func(n *apex.Node, ctx apex.Context) bool {
			if n.Kind != apex.KindCall || !d.matches(n, source) {
				return true
			}
			sev := antipattern.SevMajor
			if ctx.InLoop() {
				sev = antipattern.SevCritical
			}
			findings = append(findings, antipattern.Finding{
				ClassName:  className,
				MethodName: ctx.Method,
				Line:       n.Line,
				Snippet:    apex.Snippet(source, n.Line, d.opts.SnippetBefore, d.opts.SnippetAfter),
				Severity:   sev,
				Metadata:   map[string]string{"loop_depth": strconv.Itoa(ctx.LoopDepth)},
			})
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

// matches reports whether call is <Receiver>.<Method>(...). The member name
// must match exactly; the qualifier only has to start with the receiver
// (any case) followed by the end of the text or a separator.
func (d *SchemaGlobalDescribe) matches(call *apex.Node, src string) bool {
	name := call.ChildByField("name")
	obj := call.ChildByField("object")
	if name == nil || obj == nil || name.Text(src) != d.Method {
		return false
	}

	qualifier := strings.TrimSpace(obj.Text(src))
	if len(qualifier) < len(d.Receiver) || !strings.EqualFold(qualifier[:len(d.Receiver)], d.Receiver) {
		return false
	}
	rest := qualifier[len(d.Receiver):]
	return rest == "" || strings.ContainsRune(". \t\r\n", rune(rest[0]))
}
