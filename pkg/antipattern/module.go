package antipattern

import (
	"fmt"

	"github.com/jmylchreest/apexlens/internal/logging"
)

// KindMismatchError is returned when a module is built from a detector and a
// recommender that describe different kinds. It is a programming error.
type KindMismatchError struct {
	Detector    Kind
	Recommender Kind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("recommender kind %q does not match detector kind %q", e.Recommender, e.Detector)
}

// DetectorPanicError wraps a panic recovered from a detector.
type DetectorPanicError struct {
	Kind  Kind
	Value any
}

func (e *DetectorPanicError) Error() string {
	return fmt.Sprintf("detector %s panicked: %v", e.Kind, e.Value)
}

// Module binds one detector to an optional recommender. It enforces "many
// findings, one fix recipe": remediation belongs to the rule, not to any
// single occurrence.
type Module struct {
	detector    Detector
	recommender Recommender
}

// NewModule builds a module. r may be nil, in which case a generic
// recommendation naming the kind is used.
func NewModule(d Detector, r Recommender) (*Module, error) {
	if d == nil {
		return nil, fmt.Errorf("antipattern: nil detector")
	}
	if r != nil && r.Kind() != d.Kind() {
		return nil, &KindMismatchError{Detector: d.Kind(), Recommender: r.Kind()}
	}
	return &Module{detector: d, recommender: r}, nil
}

// MustModule is like NewModule but panics on error. Use it for static rule tables.
func MustModule(d Detector, r Recommender) *Module {
	m, err := NewModule(d, r)
	if err != nil {
		panic(err)
	}
	return m
}

// Kind returns the kind of the wrapped detector.
func (m *Module) Kind() Kind { return m.detector.Kind() }

// HasRecommender reports whether a remediation provider was supplied.
func (m *Module) HasRecommender() bool { return m.recommender != nil }

// Recommendation returns the rule's remediation text. It is never empty.
func (m *Module) Recommendation() string {
	if m.recommender != nil {
		if text := m.recommender.Recommendation(); text != "" {
			return text
		}
	}
	return FallbackRecommendation(m.Kind())
}

// FallbackRecommendation is the generic text used when no recommender exists.
func FallbackRecommendation(k Kind) string {
	return fmt.Sprintf("No specific recommendation is available for the %q antipattern. "+
		"Review each occurrence manually and refactor it according to Apex best practices.", k)
}

// Scan runs the detector over one file and wraps the findings with the
// rule's recommendation. Detector failures and panics are contained here:
// the result then has no findings and Err set.
func (m *Module) Scan(className, source string) (res Result) {
	res = Result{
		Kind:           m.Kind(),
		Recommendation: m.Recommendation(),
		Findings:       []Finding{},
	}

	defer func() {
		if r := recover(); r != nil {
			res.Findings = []Finding{}
			res.Err = &DetectorPanicError{Kind: m.Kind(), Value: r}
			logging.Named("antipattern").Warnw("detector panicked", "kind", m.Kind(), "class", className, "panic", r)
		}
	}()

	findings, err := m.detector.Detect(className, source)
	if err != nil {
		res.Err = err
		logging.Named("antipattern").Warnw("detector failed, no findings for file", "kind", m.Kind(), "class", className, "error", err)
		return res
	}
	if findings != nil {
		res.Findings = findings
	}
	return res
}
