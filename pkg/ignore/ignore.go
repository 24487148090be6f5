// Package ignore decides which files in a project are scanned.
//
// A path is scanned when it matches one of the include globs (doublestar
// syntax, "**/*.cls" by default) and is not excluded by the ignore rules.
// Ignore rules use .gitignore syntax and are merged from, lowest priority
// first:
//
//	built-in defaults     .git/, .sfdx/, node_modules/ ...
//	<root>/.forceignore   the Salesforce CLI ignore file
//	<root>/.apexlensignore
//
// A later file can re-include a path with a "!" pattern.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Ignore file names looked up in the project root.
const (
	IgnoreFile      = ".apexlensignore"
	ForceIgnoreFile = ".forceignore"
)

// BuiltinDefaults are applied even when no ignore file exists.
var BuiltinDefaults = []string{
	// Version control
	".git/",
	".svn/",
	".hg/",

	// Salesforce tooling state
	".sfdx/",
	".sf/",
	".apexlens/",
	"**/staticresources/",

	// Node tooling used by LWC and the Salesforce CLI
	"node_modules/",
	"coverage/",

	// Editors
	".idea/",
	".vscode/",
}

// DefaultIncludes select Apex classes and triggers.
var DefaultIncludes = []string{
	"**/*.cls",
	"**/*.trigger",
}

// Matcher tests whether a path should be scanned.
type Matcher struct {
	patterns []gitignore.Pattern
	ignore   gitignore.Matcher
	includes []string
}

// New creates a Matcher from the built-in defaults plus the ignore files in
// projectRoot. Missing ignore files are not an error. A nil or empty
// includes list selects DefaultIncludes.
func New(projectRoot string, includes []string) (*Matcher, error) {
	m, err := newMatcher(BuiltinDefaults, includes)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{ForceIgnoreFile, IgnoreFile} {
		ps, err := readPatterns(filepath.Join(projectRoot, name))
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		m.patterns = append(m.patterns, ps...)
	}
	m.ignore = gitignore.NewMatcher(m.patterns)
	return m, nil
}

// NewFromDefaults creates a Matcher using only built-in defaults.
func NewFromDefaults(includes []string) (*Matcher, error) {
	return newMatcher(BuiltinDefaults, includes)
}

// NewEmpty creates a Matcher that ignores nothing and includes every file.
func NewEmpty() *Matcher {
	m, _ := newMatcher(nil, []string{"**"})
	return m
}

func newMatcher(rules, includes []string) (*Matcher, error) {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	for _, inc := range includes {
		if !doublestar.ValidatePattern(inc) {
			return nil, fmt.Errorf("invalid include pattern %q", inc)
		}
	}

	m := &Matcher{includes: append([]string(nil), includes...)}
	for _, r := range rules {
		m.patterns = append(m.patterns, gitignore.ParsePattern(r, nil))
	}
	m.ignore = gitignore.NewMatcher(m.patterns)
	return m, nil
}

// Includes returns the include globs in effect.
func (m *Matcher) Includes() []string {
	return append([]string(nil), m.includes...)
}

// ShouldIgnore reports whether path, relative to the project root, is
// excluded by the ignore rules. A file inside an ignored directory is
// ignored too.
func (m *Matcher) ShouldIgnore(path string, isDir bool) bool {
	parts := split(path)
	if len(parts) == 0 {
		return false
	}
	return m.ignore.Match(parts, isDir)
}

// Included reports whether path matches an include glob.
func (m *Matcher) Included(path string) bool {
	path = strings.Join(split(path), "/")
	for _, inc := range m.includes {
		if ok, _ := doublestar.Match(inc, path); ok {
			return true
		}
	}
	return false
}

// Accept reports whether the file at path should be scanned.
func (m *Matcher) Accept(path string) bool {
	return m.Included(path) && !m.ShouldIgnore(path, false)
}

// WalkFunc returns a skip check for filepath.WalkDir callbacks. Absolute
// paths are made relative to projectRoot first.
func (m *Matcher) WalkFunc(projectRoot string) func(path string, isDir bool) (skip, skipDir bool) {
	return func(path string, isDir bool) (bool, bool) {
		rel, err := filepath.Rel(projectRoot, path)
		if err != nil {
			rel = path
		}
		if isDir {
			if m.ShouldIgnore(rel, true) {
				return true, true
			}
			return false, false
		}
		return !m.Accept(rel), false
	}
}

func split(path string) []string {
	path = strings.Trim(filepath.ToSlash(path), "/")
	if path == "" || path == "." {
		return nil
	}
	parts := strings.Split(path, "/")
	if parts[0] == "." {
		parts = parts[1:]
	}
	return parts
}

// readPatterns reads gitignore-style patterns from a file.
func readPatterns(path string) ([]gitignore.Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ps []gitignore.Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(line, nil))
	}
	return ps, scanner.Err()
}
