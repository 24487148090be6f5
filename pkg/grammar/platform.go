package grammar

import (
	"path/filepath"
	"runtime"
)

// PlatformInfo holds the current platform details for grammar file naming.
type PlatformInfo struct {
	OS   string // "linux", "darwin", "windows"
	Arch string // "amd64", "arm64"
	Ext  string // ".so", ".dylib", ".dll"
}

// CurrentPlatform returns the platform info for the running system.
func CurrentPlatform() PlatformInfo {
	p := PlatformInfo{OS: runtime.GOOS, Arch: runtime.GOARCH}
	switch p.OS {
	case "darwin":
		p.Ext = ".dylib"
	case "windows":
		p.Ext = ".dll"
	default:
		p.Ext = ".so"
	}
	return p
}

// LibraryFilename is the cache-relative path of a grammar library:
// {name}/grammar{ext}.
func LibraryFilename(name string) string {
	return filepath.Join(name, "grammar"+CurrentPlatform().Ext)
}

// AssetFilename is the release asset name of a grammar library:
// apexlens-grammar-{name}-{version}-{os}-{arch}{ext}.
func AssetFilename(name, version string) string {
	p := CurrentPlatform()
	return "apexlens-grammar-" + name + "-" + version + "-" + p.OS + "-" + p.Arch + p.Ext
}
