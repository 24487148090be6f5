// Package detectors implements the Apex antipattern rules.
//
// Every detector parses the file through an apex.TreeProvider, walks the
// tree with an apex.Context threaded by value, and reports findings in
// source order. Parse failures and panics during the walk come back as an
// error with no findings; the owning antipattern.Module turns that into a
// soft per-file failure.
package detectors

import (
	"fmt"

	"github.com/jmylchreest/apexlens/pkg/apex"
	"github.com/jmylchreest/apexlens/pkg/soql"
)

// Default snippet window around a structural finding.
const (
	DefaultSnippetBefore = 3
	DefaultSnippetAfter  = 3
)

// Options tune finding presentation. Zero values select the defaults.
type Options struct {
	SnippetBefore  int
	SnippetAfter   int
	MaxQueryLength int
}

func (o Options) withDefaults() Options {
	if o.SnippetBefore <= 0 {
		o.SnippetBefore = DefaultSnippetBefore
	}
	if o.SnippetAfter <= 0 {
		o.SnippetAfter = DefaultSnippetAfter
	}
	if o.MaxQueryLength <= 0 {
		o.MaxQueryLength = soql.DefaultDisplayLength
	}
	return o
}

func parse(provider apex.TreeProvider, source string) (*apex.Node, error) {
	root, err := provider.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parsing source: %w", err)
	}
	if root == nil {
		return nil, apex.ErrNoTree
	}
	return root, nil
}

// guard runs a tree walk and converts a panic into an error.
func guard(walk func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("walking tree: %v", r)
		}
	}()
	walk()
	return nil
}

// queries parses source and extracts its query literals.
func queries(provider apex.TreeProvider, source string) ([]apex.QueryInfo, *apex.Node, error) {
	root, err := parse(provider, source)
	if err != nil {
		return nil, nil, err
	}
	qs, err := apex.ExtractQueries(root, source)
	if err != nil {
		return nil, nil, err
	}
	return qs, root, nil
}
