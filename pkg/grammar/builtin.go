package grammar

import (
	"sort"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
)

// BuiltinJava is the name of the compiled-in Java grammar.
const BuiltinJava = "java"

// BuiltinRegistry manages grammars compiled into the binary.
type BuiltinRegistry struct {
	mu        sync.RWMutex
	providers map[string]BuiltinProvider
	loaded    map[string]*tree_sitter.Language
}

// NewBuiltinRegistry creates a registry holding every compiled-in grammar.
func NewBuiltinRegistry() *BuiltinRegistry {
	r := &BuiltinRegistry{
		providers: make(map[string]BuiltinProvider),
		loaded:    make(map[string]*tree_sitter.Language),
	}
	r.Register(BuiltinJava, tree_sitter_java.Language)
	return r
}

// Register adds a compiled-in grammar to the registry.
func (r *BuiltinRegistry) Register(name string, provider BuiltinProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	delete(r.loaded, name)
}

// Load returns the Language for a built-in grammar.
func (r *BuiltinRegistry) Load(name string) (*tree_sitter.Language, error) {
	r.mu.RLock()
	if lang, ok := r.loaded[name]; ok {
		r.mu.RUnlock()
		return lang, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if lang, ok := r.loaded[name]; ok {
		return lang, nil
	}

	provider, ok := r.providers[name]
	if !ok {
		return nil, &GrammarNotFoundError{Name: name}
	}

	lang := tree_sitter.NewLanguage(provider())
	if lang == nil {
		return nil, &GrammarNotFoundError{Name: name}
	}
	r.loaded[name] = lang
	return lang, nil
}

// Has returns true if the grammar is compiled-in.
func (r *BuiltinRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Names returns the names of all compiled-in grammars, sorted.
func (r *BuiltinRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
