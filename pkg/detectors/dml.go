package detectors

import (
	"strconv"
	"strings"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/apex"
)

// dmlMethods are the Database class methods that perform DML.
var dmlMethods = map[string]bool{
	"insert":      true,
	"update":      true,
	"upsert":      true,
	"delete":      true,
	"undelete":    true,
	"merge":       true,
	"convertlead": true,
}

// DMLInLoop flags DML statements and Database DML calls inside loops. Each
// iteration consumes one of the 150 DML statements a transaction allows.
type DMLInLoop struct {
	provider apex.TreeProvider
	opts     Options
}

// NewDMLInLoop creates the detector.
func NewDMLInLoop(provider apex.TreeProvider, opts Options) *DMLInLoop {
	return &DMLInLoop{provider: provider, opts: opts.withDefaults()}
}

// Kind implements antipattern.Detector.
func (d *DMLInLoop) Kind() antipattern.Kind { return antipattern.KindDMLInLoop }

// Detect implements antipattern.Detector.
func (d *DMLInLoop) Detect(className, source string) ([]antipattern.Finding, error) {
	root, err := parse(d.provider, source)
	if err != nil {
		return nil, err
	}

	var findings []antipattern.Finding
	err = guard(func() {
		apex.Walk(root, source, apex.Context{}, func(n *apex.Node, ctx apex.Context) bool {
			if !ctx.InLoop() {
				return true
			}
			var op string
			switch {
			case n.Kind == apex.KindDML:
				op = firstWord(n.Text(source))
			case apex.IsDatabaseCall(n, source, dmlMethods):
				op = "Database." + n.ChildByField("name").Text(source)
			default:
				return true
			}
			findings = append(findings, antipattern.Finding{
				ClassName:  className,
				MethodName: ctx.Method,
				Line:       n.Line,
				Snippet:    strings.TrimSpace(apex.Snippet(source, n.Line, 0, 0)),
				Severity:   antipattern.SevCritical,
				Metadata: map[string]string{
					"operation":  op,
					"loop_depth": strconv.Itoa(ctx.LoopDepth),
				},
			})
			return false
		})
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return strings.ToLower(f[0])
	}
	return ""
}
