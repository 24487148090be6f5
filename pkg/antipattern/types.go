// Package antipattern defines the shared model for Apex antipattern detection:
// severities, rule kinds, findings, per-rule results, and the Module/Registry
// pair that binds each detector to exactly one remediation text.
package antipattern

import (
	"fmt"
	"strings"
)

// Severity ranks a finding. Higher values are more urgent.
type Severity int

// Severity levels, totally ordered: minor < major < critical.
const (
	SevMinor    Severity = 1
	SevMajor    Severity = 2
	SevCritical Severity = 3
)

func (s Severity) String() string {
	switch s {
	case SevMinor:
		return "minor"
	case SevMajor:
		return "major"
	case SevCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Rank returns the numeric rank of the severity (minor=1, major=2, critical=3).
func (s Severity) Rank() int { return int(s) }

// Valid reports whether s is one of the defined levels.
func (s Severity) Valid() bool { return s >= SevMinor && s <= SevCritical }

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity parses "minor", "major" or "critical" (case-insensitive).
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "minor":
		return SevMinor, nil
	case "major":
		return SevMajor, nil
	case "critical":
		return SevCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q (want minor, major or critical)", name)
	}
}

// Kind identifies one detection rule.
type Kind string

// Rule kinds. Every detector, module and registry entry is keyed by exactly one.
const (
	KindSchemaGlobalDescribe    Kind = "schema-global-describe"
	KindSOQLMissingWhereOrLimit Kind = "soql-missing-where-or-limit"
	KindSOQLInLoop              Kind = "soql-in-loop"
	KindDMLInLoop               Kind = "dml-in-loop"
	KindSOQLUnusedFields        Kind = "soql-unused-fields"
)

var allKinds = []Kind{
	KindSchemaGlobalDescribe,
	KindSOQLMissingWhereOrLimit,
	KindSOQLInLoop,
	KindDMLInLoop,
	KindSOQLUnusedFields,
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Finding is one located occurrence of an antipattern.
// It never carries remediation text; that lives on Result.
type Finding struct {
	ClassName  string            `json:"class"`
	MethodName string            `json:"method,omitempty"` // "" when outside a method or unrecoverable
	Line       int               `json:"line"`             // 1-indexed
	Snippet    string            `json:"snippet"`
	Severity   Severity          `json:"severity"`
	Metadata   map[string]string `json:"metadata,omitempty"` // Detector-specific occurrence facts
}

// Result is the output of one module's scan of one file.
type Result struct {
	Kind           Kind      `json:"kind"`
	Recommendation string    `json:"recommendation"`
	Findings       []Finding `json:"findings"`
	// Err is set when the detector failed softly (e.g. the file did not
	// parse). Findings is empty in that case.
	Err error `json:"-"`
}

// HasFindings reports whether the result holds at least one finding.
func (r Result) HasFindings() bool { return len(r.Findings) > 0 }

// MaxSeverity returns the highest severity among the findings, or 0 when empty.
func (r Result) MaxSeverity() Severity {
	var max Severity
	for _, f := range r.Findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}

// Detector finds occurrences of one antipattern kind in a single source file.
// Implementations must hold no per-call mutable state so they can be used
// concurrently on different files.
type Detector interface {
	Kind() Kind
	// Detect returns findings in source order. A non-nil error is a soft
	// failure for this file only (parse or traversal failure).
	Detect(className, source string) ([]Finding, error)
}

// Recommender supplies the rule-level remediation text for one kind.
type Recommender interface {
	Kind() Kind
	Recommendation() string
}
