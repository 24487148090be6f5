package grammar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/pkg/httputil"
)

// DynamicGrammarDef describes a grammar that can be dynamically loaded.
type DynamicGrammarDef struct {
	// SourceRepo is the GitHub repository the grammar is built from.
	SourceRepo string
	// CSymbol is the C function exported by the shared library.
	CSymbol string
	// LatestVersion is used when neither the loader nor the caller pins one.
	LatestVersion string
}

// Apex is the name of the dynamically loaded Apex grammar.
const Apex = "apex"

// DynamicGrammars lists all grammars that can be downloaded. Apex is built
// from the sfapex repository. Inline SOQL and SOSL are parsed by the Apex
// grammar itself, so the standalone query grammars are not shipped.
var DynamicGrammars = map[string]*DynamicGrammarDef{
	Apex: {
		SourceRepo: "aheber/tree-sitter-sfapex",
		CSymbol:    "tree_sitter_apex",
	},
}

// DynamicLoader loads tree-sitter grammars from shared libraries at runtime.
// On Unix it uses purego (dlopen); on Windows it uses syscall.LoadDLL.
type DynamicLoader struct {
	mu       sync.RWMutex
	dir      string
	baseURL  string
	version  string
	client   *httputil.Client
	manifest *manifestStore
	loaded   map[string]*tree_sitter.Language
	handles  map[string]uintptr
}

// DefaultGrammarDir is where grammars are cached when no directory is given.
var DefaultGrammarDir = filepath.Join(".apexlens", "grammars")

// NewDynamicLoader creates a loader for the given grammar directory.
func NewDynamicLoader(dir string) *DynamicLoader {
	if dir == "" {
		dir = DefaultGrammarDir
	}

	dl := &DynamicLoader{
		dir:      dir,
		baseURL:  DefaultGrammarURL,
		client:   httputil.NewClient(),
		manifest: newManifestStore(dir),
		loaded:   make(map[string]*tree_sitter.Language),
		handles:  make(map[string]uintptr),
	}

	if err := dl.manifest.load(); err != nil {
		logging.Named("grammar").Warnw("ignoring unreadable grammar manifest", "dir", dir, "error", err)
	}

	return dl
}

// Dir returns the grammar cache directory.
func (dl *DynamicLoader) Dir() string { return dl.dir }

// Load opens the shared library recorded in the manifest.
func (dl *DynamicLoader) Load(name string) (*tree_sitter.Language, error) {
	dl.mu.RLock()
	if lang, ok := dl.loaded[name]; ok {
		dl.mu.RUnlock()
		return lang, nil
	}
	dl.mu.RUnlock()

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if lang, ok := dl.loaded[name]; ok {
		return lang, nil
	}

	entry := dl.manifest.get(name)
	if entry == nil {
		return nil, &GrammarNotFoundError{Name: name}
	}

	if dl.version != "" && entry.Version != "" && entry.Version != dl.version {
		return nil, &GrammarStaleError{
			Name:             name,
			InstalledVersion: entry.Version,
			WantVersion:      dl.version,
		}
	}

	libPath := filepath.Join(dl.dir, entry.File)
	if _, err := os.Stat(libPath); err != nil {
		return nil, fmt.Errorf("grammar library not found at %s: %w", libPath, err)
	}

	lang, handle, err := openAndLoadLanguage(libPath, entry.CSymbol)
	if err != nil {
		return nil, fmt.Errorf("grammar %q: %w", name, err)
	}

	dl.loaded[name] = lang
	dl.handles[name] = handle
	return lang, nil
}

// Download fetches a grammar's shared library and records it in the manifest.
// An existing installation is replaced.
func (dl *DynamicLoader) Download(ctx context.Context, name string, def *DynamicGrammarDef) error {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	version := dl.version
	if version == "" {
		version = def.LatestVersion
	}
	if version == "" {
		version = "latest"
	}

	dl.unloadLocked(name)

	file := LibraryFilename(name)
	sum, err := downloadGrammarAsset(ctx, dl.client, dl.baseURL, name, version, filepath.Join(dl.dir, file))
	if err != nil {
		return &DownloadFailedError{Name: name, Err: err}
	}

	dl.manifest.set(name, &ManifestEntry{
		Version:     version,
		File:        file,
		SHA256:      sum,
		CSymbol:     def.CSymbol,
		SourceRepo:  def.SourceRepo,
		InstalledAt: time.Now().UTC(),
	})
	return dl.manifest.save()
}

// Installed returns info about all locally installed dynamic grammars.
func (dl *DynamicLoader) Installed() []GrammarInfo {
	entries := dl.manifest.entries()
	infos := make([]GrammarInfo, 0, len(entries))
	for name, entry := range entries {
		infos = append(infos, GrammarInfo{
			Name:        name,
			Version:     entry.Version,
			Path:        filepath.Join(dl.dir, entry.File),
			SHA256:      entry.SHA256,
			InstalledAt: entry.InstalledAt,
		})
	}
	return infos
}

// Remove deletes a grammar's shared library and manifest entry.
func (dl *DynamicLoader) Remove(name string) error {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.manifest.get(name) == nil {
		return &GrammarNotFoundError{Name: name}
	}

	dl.unloadLocked(name)
	if err := os.RemoveAll(filepath.Join(dl.dir, name)); err != nil {
		return fmt.Errorf("removing grammar %q: %w", name, err)
	}

	dl.manifest.remove(name)
	return dl.manifest.save()
}

// unloadLocked drops the cached language and closes its library. dl.mu must be held.
func (dl *DynamicLoader) unloadLocked(name string) {
	if handle, ok := dl.handles[name]; ok {
		if err := closeLibrary(handle); err != nil {
			logging.Named("grammar").Debugw("closing grammar library", "name", name, "error", err)
		}
	}
	delete(dl.loaded, name)
	delete(dl.handles, name)
}
