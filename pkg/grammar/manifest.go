package grammar

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ManifestFile is the name of the manifest inside the grammar directory.
const ManifestFile = "manifest.json"

// Manifest tracks installed dynamic grammars in the grammar cache directory.
type Manifest struct {
	Grammars map[string]*ManifestEntry `json:"grammars"`
}

// ManifestEntry describes a single installed dynamic grammar.
type ManifestEntry struct {
	Version     string    `json:"version"`
	File        string    `json:"file"` // relative to the grammar directory
	SHA256      string    `json:"sha256"`
	CSymbol     string    `json:"c_symbol"`
	SourceRepo  string    `json:"source_repo,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}

type manifestStore struct {
	mu   sync.RWMutex
	dir  string
	data *Manifest
}

func newManifestStore(dir string) *manifestStore {
	return &manifestStore{
		dir:  dir,
		data: &Manifest{Grammars: make(map[string]*ManifestEntry)},
	}
}

func (ms *manifestStore) path() string {
	return filepath.Join(ms.dir, ManifestFile)
}

// load reads the manifest from disk. A missing file is an empty manifest.
func (ms *manifestStore) load() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	data, err := os.ReadFile(ms.path())
	if errors.Is(err, fs.ErrNotExist) {
		ms.data = &Manifest{Grammars: make(map[string]*ManifestEntry)}
		return nil
	}
	if err != nil {
		return err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if m.Grammars == nil {
		m.Grammars = make(map[string]*ManifestEntry)
	}
	ms.data = &m
	return nil
}

// save writes the manifest atomically.
func (ms *manifestStore) save() error {
	ms.mu.RLock()
	data, err := json.MarshalIndent(ms.data, "", "  ")
	ms.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(ms.dir, 0o755); err != nil {
		return err
	}
	tmp := ms.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, ms.path())
}

func (ms *manifestStore) get(name string) *ManifestEntry {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.data.Grammars[name]
}

func (ms *manifestStore) set(name string, entry *ManifestEntry) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data.Grammars[name] = entry
}

func (ms *manifestStore) remove(name string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.data.Grammars, name)
}

// entries returns a copy of all manifest entries.
func (ms *manifestStore) entries() map[string]*ManifestEntry {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make(map[string]*ManifestEntry, len(ms.data.Grammars))
	for k, v := range ms.data.Grammars {
		result[k] = v
	}
	return result
}
