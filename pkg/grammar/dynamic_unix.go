//go:build !windows

package grammar

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func closeLibrary(handle uintptr) error {
	if handle == 0 {
		return nil
	}
	return purego.Dlclose(handle)
}

// openAndLoadLanguage dlopens libPath and calls cSymbol to obtain the language.
func openAndLoadLanguage(libPath, cSymbol string) (lang *tree_sitter.Language, handle uintptr, err error) {
	handle, err = purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, 0, fmt.Errorf("dlopen %s: %w", libPath, err)
	}

	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			_ = purego.Dlclose(handle)
			lang, handle = nil, 0
			err = fmt.Errorf("symbol %s not found in %s: %v", cSymbol, libPath, r)
		}
	}()

	var languageFn func() unsafe.Pointer
	purego.RegisterLibFunc(&languageFn, handle, cSymbol)

	lang = tree_sitter.NewLanguage(languageFn())
	if lang == nil {
		_ = purego.Dlclose(handle)
		return nil, 0, fmt.Errorf("symbol %s returned nil language", cSymbol)
	}
	return lang, handle, nil
}
