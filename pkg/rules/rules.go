// Package rules assembles the default antipattern registry: one module per
// detector, each paired with its embedded remediation text.
package rules

import (
	"fmt"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/apex"
	"github.com/jmylchreest/apexlens/pkg/detectors"
	"github.com/jmylchreest/apexlens/pkg/recommend"
)

// Info describes a rule for listings and SARIF output.
type Info struct {
	Kind        antipattern.Kind       `json:"kind"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Severities  []antipattern.Severity `json:"severities"`
}

type entry struct {
	info  Info
	build func(apex.TreeProvider, detectors.Options) antipattern.Detector
}

// table is the static rule list, in registration order.
var table = []entry{
	{
		info: Info{
			Kind:        antipattern.KindSchemaGlobalDescribe,
			Title:       "Schema.getGlobalDescribe() call",
			Description: "Global describe loads every object in the org; escalated when called inside a loop.",
			Severities:  []antipattern.Severity{antipattern.SevMajor, antipattern.SevCritical},
		},
		build: func(p apex.TreeProvider, o detectors.Options) antipattern.Detector {
			return detectors.NewSchemaGlobalDescribe(p, o)
		},
	},
	{
		info: Info{
			Kind:        antipattern.KindSOQLMissingWhereOrLimit,
			Title:       "SOQL without WHERE or LIMIT",
			Description: "Query reads every row of the object and fails once the table grows past the row limit.",
			Severities:  []antipattern.Severity{antipattern.SevCritical},
		},
		build: func(p apex.TreeProvider, o detectors.Options) antipattern.Detector {
			return detectors.NewSOQLMissingWhereOrLimit(p, o)
		},
	},
	{
		info: Info{
			Kind:        antipattern.KindSOQLInLoop,
			Title:       "SOQL inside a loop",
			Description: "Query runs once per iteration and exhausts the per-transaction query limit.",
			Severities:  []antipattern.Severity{antipattern.SevCritical},
		},
		build: func(p apex.TreeProvider, o detectors.Options) antipattern.Detector {
			return detectors.NewSOQLInLoop(p, o)
		},
	},
	{
		info: Info{
			Kind:        antipattern.KindDMLInLoop,
			Title:       "DML inside a loop",
			Description: "DML statement runs once per iteration and exhausts the per-transaction DML limit.",
			Severities:  []antipattern.Severity{antipattern.SevCritical},
		},
		build: func(p apex.TreeProvider, o detectors.Options) antipattern.Detector {
			return detectors.NewDMLInLoop(p, o)
		},
	},
	{
		info: Info{
			Kind:        antipattern.KindSOQLUnusedFields,
			Title:       "Unused SOQL fields",
			Description: "Query selects fields that the method never reads.",
			Severities:  []antipattern.Severity{antipattern.SevMinor},
		},
		build: func(p apex.TreeProvider, o detectors.Options) antipattern.Detector {
			return detectors.NewSOQLUnusedFields(p, o)
		},
	},
}

// Options configures the default registry.
type Options struct {
	// Disabled kinds are not registered.
	Disabled []antipattern.Kind
	Detector detectors.Options
}

// UnknownKindError reports a disabled kind that names no rule.
type UnknownKindError struct {
	Kind antipattern.Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown rule %q", e.Kind)
}

// Default builds the registry from the static rule table. Construction
// errors (an unknown disabled kind, a missing remediation text, a kind
// mismatch) are returned immediately.
func Default(provider apex.TreeProvider, opts Options) (*antipattern.Registry, error) {
	if provider == nil {
		return nil, fmt.Errorf("rules: nil tree provider")
	}

	disabled := make(map[antipattern.Kind]bool, len(opts.Disabled))
	for _, k := range opts.Disabled {
		if !k.Valid() {
			return nil, &UnknownKindError{Kind: k}
		}
		disabled[k] = true
	}

	reg := antipattern.NewRegistry()
	for _, e := range table {
		if disabled[e.info.Kind] {
			continue
		}
		rec, err := recommend.For(e.info.Kind)
		if err != nil {
			return nil, err
		}
		m, err := antipattern.NewModule(e.build(provider, opts.Detector), rec)
		if err != nil {
			return nil, fmt.Errorf("building rule %s: %w", e.info.Kind, err)
		}
		reg.Register(m)
	}
	return reg, nil
}

// All describes every rule in registration order.
func All() []Info {
	out := make([]Info, len(table))
	for i, e := range table {
		out[i] = e.info
	}
	return out
}

// Describe returns the description of one rule.
func Describe(k antipattern.Kind) (Info, bool) {
	for _, e := range table {
		if e.info.Kind == k {
			return e.info, true
		}
	}
	return Info{}, false
}

// ParseKinds converts rule names to kinds, rejecting unknown names.
func ParseKinds(names []string) ([]antipattern.Kind, error) {
	out := make([]antipattern.Kind, 0, len(names))
	for _, n := range names {
		k := antipattern.Kind(n)
		if !k.Valid() {
			return nil, &UnknownKindError{Kind: k}
		}
		out = append(out, k)
	}
	return out, nil
}
