package grammar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/apexlens/pkg/httputil"
)

// DefaultGrammarURL is the default URL template for grammar assets.
// Placeholders:
//
//	{version}  release tag, e.g. "grammars-v3"
//	{asset}    asset filename, see AssetFilename
//	{name}     grammar name, e.g. "apex"
//	{os}       GOOS
//	{arch}     GOARCH
const DefaultGrammarURL = "https://github.com/jmylchreest/apexlens/releases/download/{version}/{asset}"

func resolveDownloadURL(urlTemplate, version, asset, name string) string {
	p := CurrentPlatform()
	return strings.NewReplacer(
		"{version}", version,
		"{asset}", asset,
		"{name}", name,
		"{os}", p.OS,
		"{arch}", p.Arch,
	).Replace(urlTemplate)
}

// downloadGrammarAsset fetches a grammar library to destPath and returns its
// SHA256. The file is written to a temporary path and renamed into place.
func downloadGrammarAsset(ctx context.Context, client *httputil.Client, urlTemplate, name, version, destPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("creating grammar directory: %w", err)
	}

	url := resolveDownloadURL(urlTemplate, version, AssetFilename(name, version), name)

	resp, err := client.Get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned HTTP %d for %s", resp.StatusCode, url)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, hasher), resp.Body); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing grammar file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing grammar file: %w", err)
	}

	if err := os.Chmod(tmpPath, 0o755); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming grammar file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
