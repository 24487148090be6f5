// Package grammar loads tree-sitter languages for apexlens.
//
// Two sources are combined:
//   - Compiled-in: the Java grammar, linked via CGO. Apex is close enough to
//     Java that it serves as a structural fallback.
//   - Dynamic: the sfapex Apex grammar downloaded as a shared library and
//     loaded via purego at runtime.
//
// The CompositeLoader tries built-in first, then the local cache, then
// downloads if allowed.
package grammar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/pkg/httputil"
)

// Loader provides access to tree-sitter language grammars.
type Loader interface {
	// Load returns the Language for the given name.
	Load(ctx context.Context, name string) (*tree_sitter.Language, error)

	// Available returns all grammar names that can be loaded (compiled-in + downloadable).
	Available() []string

	// Installed returns grammars currently available locally (compiled-in + cached).
	Installed() []GrammarInfo

	// Install downloads a grammar to the local cache.
	Install(ctx context.Context, name string) error

	// Remove deletes a grammar from the local cache.
	Remove(name string) error
}

// GrammarInfo describes an installed or available grammar.
type GrammarInfo struct {
	Name        string    `json:"name"`
	Version     string    `json:"version,omitempty"`
	BuiltIn     bool      `json:"built_in"`
	Path        string    `json:"path,omitempty"` // Empty for built-in
	SHA256      string    `json:"sha256,omitempty"`
	InstalledAt time.Time `json:"installed_at,omitzero"`
}

// BuiltinProvider returns an unsafe.Pointer to a TSLanguage, the signature
// exposed by tree-sitter grammar Go bindings.
type BuiltinProvider func() unsafe.Pointer

// GrammarNotFoundError is returned when a grammar is not available.
type GrammarNotFoundError struct {
	Name string
}

func (e *GrammarNotFoundError) Error() string {
	return fmt.Sprintf("grammar %q not found", e.Name)
}

// DownloadFailedError is returned when a grammar download fails.
type DownloadFailedError struct {
	Name string
	Err  error
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("failed to download grammar %q: %v", e.Name, e.Err)
}

func (e *DownloadFailedError) Unwrap() error {
	return e.Err
}

// GrammarStaleError is returned when an installed grammar was downloaded for
// a different version than the loader asks for.
type GrammarStaleError struct {
	Name             string
	InstalledVersion string
	WantVersion      string
}

func (e *GrammarStaleError) Error() string {
	return fmt.Sprintf("grammar %q is version %s, want %s", e.Name, e.InstalledVersion, e.WantVersion)
}

// CompositeLoader tries, in order: built-in grammars, the dynamic cache, and
// (when enabled) a download into the cache.
type CompositeLoader struct {
	builtin  *BuiltinRegistry
	dynamic  *DynamicLoader
	autoLoad bool

	mu    sync.RWMutex
	cache map[string]*tree_sitter.Language
}

// CompositeLoaderOption configures the CompositeLoader.
type CompositeLoaderOption func(*CompositeLoader)

// WithAutoDownload enables automatic downloading of missing grammars.
func WithAutoDownload(enabled bool) CompositeLoaderOption {
	return func(cl *CompositeLoader) {
		cl.autoLoad = enabled
	}
}

// WithGrammarDir sets the directory for storing downloaded grammars.
// Defaults to ".apexlens/grammars/" relative to the working directory.
// Apply it before WithBaseURL, WithVersion and WithHTTPClient.
func WithGrammarDir(dir string) CompositeLoaderOption {
	return func(cl *CompositeLoader) {
		cl.dynamic = NewDynamicLoader(dir)
	}
}

// WithBaseURL sets the URL template for downloading grammar assets.
// Supported placeholders: {version}, {asset}, {name}, {os}, {arch}.
func WithBaseURL(urlTemplate string) CompositeLoaderOption {
	return func(cl *CompositeLoader) {
		if urlTemplate != "" {
			cl.dynamic.baseURL = urlTemplate
		}
	}
}

// WithVersion pins the grammar release to download. Installed grammars of a
// different version are treated as stale and re-downloaded.
func WithVersion(version string) CompositeLoaderOption {
	return func(cl *CompositeLoader) {
		cl.dynamic.version = version
	}
}

// WithHTTPClient replaces the client used for downloads.
func WithHTTPClient(c *httputil.Client) CompositeLoaderOption {
	return func(cl *CompositeLoader) {
		if c != nil {
			cl.dynamic.client = c
		}
	}
}

// NewCompositeLoader creates a new CompositeLoader with the given options.
func NewCompositeLoader(opts ...CompositeLoaderOption) *CompositeLoader {
	cl := &CompositeLoader{
		builtin:  NewBuiltinRegistry(),
		dynamic:  NewDynamicLoader(""),
		autoLoad: true,
		cache:    make(map[string]*tree_sitter.Language),
	}

	for _, opt := range opts {
		opt(cl)
	}

	return cl
}

// Load returns the Language for the given name.
func (cl *CompositeLoader) Load(ctx context.Context, name string) (*tree_sitter.Language, error) {
	cl.mu.RLock()
	if lang, ok := cl.cache[name]; ok {
		cl.mu.RUnlock()
		return lang, nil
	}
	cl.mu.RUnlock()

	if lang, err := cl.builtin.Load(name); err == nil {
		cl.remember(name, lang)
		return lang, nil
	}

	lang, err := cl.dynamic.Load(name)
	if err == nil {
		cl.remember(name, lang)
		return lang, nil
	}
	logging.Named("grammar").Debugw("grammar not in local cache", "name", name, "error", err)

	if cl.autoLoad {
		if err := cl.Install(ctx, name); err != nil {
			return nil, err
		}
		if lang, err := cl.dynamic.Load(name); err == nil {
			cl.remember(name, lang)
			return lang, nil
		}
	}

	return nil, &GrammarNotFoundError{Name: name}
}

func (cl *CompositeLoader) remember(name string, lang *tree_sitter.Language) {
	cl.mu.Lock()
	cl.cache[name] = lang
	cl.mu.Unlock()
}

// Available returns all grammar names that can be loaded, sorted.
func (cl *CompositeLoader) Available() []string {
	seen := make(map[string]bool)
	var names []string

	for _, name := range cl.builtin.Names() {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range DynamicGrammars {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

// Installed returns grammars currently available locally.
func (cl *CompositeLoader) Installed() []GrammarInfo {
	var infos []GrammarInfo
	for _, name := range cl.builtin.Names() {
		infos = append(infos, GrammarInfo{Name: name, BuiltIn: true})
	}
	infos = append(infos, cl.dynamic.Installed()...)

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Install downloads a grammar to the local cache. Built-in grammars are a no-op.
func (cl *CompositeLoader) Install(ctx context.Context, name string) error {
	if cl.builtin.Has(name) {
		return nil
	}

	def, ok := DynamicGrammars[name]
	if !ok {
		return &GrammarNotFoundError{Name: name}
	}

	cl.mu.Lock()
	delete(cl.cache, name)
	cl.mu.Unlock()

	logging.Named("grammar").Infow("downloading grammar", "name", name, "repo", def.SourceRepo)
	return cl.dynamic.Download(ctx, name, def)
}

// Remove deletes a grammar from the local cache.
func (cl *CompositeLoader) Remove(name string) error {
	if cl.builtin.Has(name) {
		return fmt.Errorf("grammar %q is built in and cannot be removed", name)
	}

	cl.mu.Lock()
	delete(cl.cache, name)
	cl.mu.Unlock()

	return cl.dynamic.Remove(name)
}
