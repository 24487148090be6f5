//go:build windows

package grammar

import (
	"fmt"
	"syscall"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

func closeLibrary(handle uintptr) error {
	if handle == 0 {
		return nil
	}
	return syscall.FreeLibrary(syscall.Handle(handle))
}

// openAndLoadLanguage loads the DLL at libPath and calls cSymbol to obtain
// the language.
func openAndLoadLanguage(libPath, cSymbol string) (*tree_sitter.Language, uintptr, error) {
	dll, err := syscall.LoadDLL(libPath)
	if err != nil {
		return nil, 0, fmt.Errorf("LoadDLL %s: %w", libPath, err)
	}

	proc, err := dll.FindProc(cSymbol)
	if err != nil {
		_ = dll.Release()
		return nil, 0, fmt.Errorf("FindProc %s in %s: %w", cSymbol, libPath, err)
	}

	ret, _, _ := proc.Call()
	if ret == 0 {
		_ = dll.Release()
		return nil, 0, fmt.Errorf("symbol %s returned NULL", cSymbol)
	}

	lang := tree_sitter.NewLanguage(unsafe.Pointer(ret)) //nolint:govet // C pointer
	if lang == nil {
		_ = dll.Release()
		return nil, 0, fmt.Errorf("symbol %s returned nil language", cSymbol)
	}
	return lang, uintptr(dll.Handle), nil
}
