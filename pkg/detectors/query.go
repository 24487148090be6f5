package detectors

import (
	"strconv"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/apex"
	"github.com/jmylchreest/apexlens/pkg/soql"
)

// SOQLMissingWhereOrLimit flags SOQL queries with neither a WHERE nor a
// LIMIT clause. Such a query reads every row of the object and fails once
// the table outgrows the governor limit, so the finding is always Critical.
type SOQLMissingWhereOrLimit struct {
	provider apex.TreeProvider
	opts     Options
}

// NewSOQLMissingWhereOrLimit creates the detector.
func NewSOQLMissingWhereOrLimit(provider apex.TreeProvider, opts Options) *SOQLMissingWhereOrLimit {
	return &SOQLMissingWhereOrLimit{provider: provider, opts: opts.withDefaults()}
}

// Kind implements antipattern.Detector.
func (d *SOQLMissingWhereOrLimit) Kind() antipattern.Kind {
	return antipattern.KindSOQLMissingWhereOrLimit
}

// Detect implements antipattern.Detector. SOSL searches are skipped, as
// are dynamic queries whose text is only partly known.
func (d *SOQLMissingWhereOrLimit) Detect(className, source string) ([]antipattern.Finding, error) {
	qs, _, err := queries(d.provider, source)
	if err != nil {
		return nil, err
	}

	var findings []antipattern.Finding
	for _, q := range qs {
		if !q.IsSOQL() || q.Partial || q.HasWhere || q.HasLimit {
			continue
		}
		findings = append(findings, antipattern.Finding{
			ClassName:  className,
			MethodName: q.MethodName,
			Line:       q.Line,
			Snippet:    soql.FormatQueryForDisplay(q.Text, d.opts.MaxQueryLength),
			Severity:   antipattern.SevCritical,
			Metadata:   queryMetadata(q),
		})
	}
	return findings, nil
}

// SOQLInLoop flags queries executed once per loop iteration. The
// collection expression of a for-each loop runs once and is not flagged.
type SOQLInLoop struct {
	provider apex.TreeProvider
	opts     Options
}

// NewSOQLInLoop creates the detector.
func NewSOQLInLoop(provider apex.TreeProvider, opts Options) *SOQLInLoop {
	return &SOQLInLoop{provider: provider, opts: opts.withDefaults()}
}

// Kind implements antipattern.Detector.
func (d *SOQLInLoop) Kind() antipattern.Kind { return antipattern.KindSOQLInLoop }

// Detect implements antipattern.Detector.
func (d *SOQLInLoop) Detect(className, source string) ([]antipattern.Finding, error) {
	qs, _, err := queries(d.provider, source)
	if err != nil {
		return nil, err
	}

	var findings []antipattern.Finding
	for _, q := range qs {
		if !q.InLoop {
			continue
		}
		findings = append(findings, antipattern.Finding{
			ClassName:  className,
			MethodName: q.MethodName,
			Line:       q.Line,
			Snippet:    soql.FormatQueryForDisplay(q.Text, d.opts.MaxQueryLength),
			Severity:   antipattern.SevCritical,
			Metadata:   queryMetadata(q),
		})
	}
	return findings, nil
}

func queryMetadata(q apex.QueryInfo) map[string]string {
	md := map[string]string{}
	if obj, ok := soql.ExtractObjectName(q.Text); ok {
		md["object"] = obj
	}
	if q.Dynamic {
		md["dynamic"] = strconv.FormatBool(true)
	}
	if q.SOSL {
		md["language"] = "sosl"
	}
	return md
}
