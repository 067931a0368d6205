// Package watguest embeds a hand-written WebAssembly text guest that speaks
// the exchange protocol. It is compiled to a binary module at runtime, so the
// wazero engine can run without a separate guest build.
package watguest

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/wippyai/wasm-runtime/wat"
)

//go:embed guest.wat
var source string

// Greeting is the fragment the guest sends to host_append.
const Greeting = "Hi Guest"

var compiled = sync.OnceValues(func() ([]byte, error) {
	return Compile(source)
})

// Source returns the guest's WebAssembly text.
func Source() string {
	return source
}

// Wasm returns the compiled guest module.
func Wasm() ([]byte, error) {
	return compiled()
}

// Compile compiles WebAssembly text to a binary module.
func Compile(text string) ([]byte, error) {
	wasm, err := wat.Compile(text)
	if err != nil {
		return nil, fmt.Errorf("failed to compile wat: %w", err)
	}
	return wasm, nil
}
