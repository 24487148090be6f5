// Package recommend serves the remediation text for each antipattern kind.
// The texts are markdown files embedded from docs/, one per kind, named
// after the kind.
package recommend

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
)

//go:embed docs/*.md
var embeddedDocs embed.FS

var (
	loadOnce sync.Once
	texts    map[antipattern.Kind]string
	errLoad  error
)

// Text is a Recommender backed by a fixed string.
type Text struct {
	kind antipattern.Kind
	body string
}

// NewText builds a Recommender from an explicit string.
func NewText(kind antipattern.Kind, body string) Text {
	return Text{kind: kind, body: body}
}

// Kind implements antipattern.Recommender.
func (t Text) Kind() antipattern.Kind { return t.kind }

// Recommendation implements antipattern.Recommender.
func (t Text) Recommendation() string { return t.body }

// MissingDocError is returned when no embedded text exists for a kind.
type MissingDocError struct {
	Kind antipattern.Kind
}

func (e *MissingDocError) Error() string {
	return fmt.Sprintf("no remediation text for %q", e.Kind)
}

// For returns the embedded Recommender for kind.
func For(kind antipattern.Kind) (Text, error) {
	all, err := load()
	if err != nil {
		return Text{}, err
	}
	body, ok := all[kind]
	if !ok {
		return Text{}, &MissingDocError{Kind: kind}
	}
	return Text{kind: kind, body: body}, nil
}

// Kinds lists the kinds with embedded text, in antipattern declaration order.
func Kinds() []antipattern.Kind {
	all, err := load()
	if err != nil {
		return nil
	}
	var out []antipattern.Kind
	for _, k := range antipattern.Kinds() {
		if _, ok := all[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func load() (map[antipattern.Kind]string, error) {
	loadOnce.Do(func() {
		texts, errLoad = readDocs(embeddedDocs)
	})
	return texts, errLoad
}

// readDocs reads every docs/<kind>.md file. Files not named after a known
// kind are rejected so a typo cannot silently drop a recommendation.
func readDocs(fsys fs.FS) (map[antipattern.Kind]string, error) {
	entries, err := fs.ReadDir(fsys, "docs")
	if err != nil {
		return nil, fmt.Errorf("reading remediation docs: %w", err)
	}

	out := make(map[antipattern.Kind]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".md" {
			continue
		}
		kind := antipattern.Kind(strings.TrimSuffix(e.Name(), ".md"))
		if !kind.Valid() {
			return nil, fmt.Errorf("remediation doc %s: unknown kind %q", e.Name(), kind)
		}
		data, err := fs.ReadFile(fsys, path.Join("docs", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading remediation doc %s: %w", e.Name(), err)
		}
		out[kind] = strings.TrimSpace(string(data))
	}
	return out, nil
}
