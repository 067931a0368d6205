package host

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/reglet-dev/memexchange/internal/watguest"
)

var wasmMagic = []byte("\x00asm")

// loaderConfig holds configuration for the Loader.
type loaderConfig struct {
	readFile   func(string) ([]byte, error)
	compileWAT func(string) ([]byte, error)
	maxSize    int64
}

func defaultLoaderConfig() loaderConfig {
	return loaderConfig{
		readFile:   os.ReadFile,
		compileWAT: watguest.Compile,
		maxSize:    64 << 20,
	}
}

// Loader resolves a guest path to wasm bytes. Binary modules are returned as
// is; WebAssembly text is compiled first. An empty path selects the embedded
// reference guest.
type Loader struct {
	config loaderConfig
}

// LoaderOption configures the Loader.
type LoaderOption func(*loaderConfig)

// WithReadFile replaces how guest files are read.
func WithReadFile(fn func(string) ([]byte, error)) LoaderOption {
	return func(c *loaderConfig) {
		c.readFile = fn
	}
}

// WithMaxModuleSize rejects guest files larger than size bytes.
func WithMaxModuleSize(size int64) LoaderOption {
	return func(c *loaderConfig) {
		c.maxSize = size
	}
}

// NewLoader creates a new Loader with defaults.
func NewLoader(opts ...LoaderOption) *Loader {
	cfg := defaultLoaderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Loader{config: cfg}
}

// LoadGuest returns the wasm bytes for path.
func (l *Loader) LoadGuest(path string) ([]byte, error) {
	if path == "" {
		return watguest.Wasm()
	}

	raw, err := l.config.readFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guest: %w", err)
	}
	if l.config.maxSize > 0 && int64(len(raw)) > l.config.maxSize {
		return nil, fmt.Errorf("guest %s is %d bytes, limit is %d", path, len(raw), l.config.maxSize)
	}

	if bytes.HasPrefix(raw, wasmMagic) {
		return raw, nil
	}
	if strings.EqualFold(filepath.Ext(path), ".wat") || bytes.HasPrefix(bytes.TrimSpace(raw), []byte("(module")) {
		wasm, err := l.config.compileWAT(string(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to load guest %s: %w", path, err)
		}
		return wasm, nil
	}
	return nil, fmt.Errorf("guest %s is neither a wasm binary nor WebAssembly text", path)
}

// CompileFile loads the guest at path and compiles it. An empty path compiles
// the embedded reference guest.
func (e *Executor) CompileFile(ctx context.Context, path string) (wazero.CompiledModule, error) {
	wasm, err := NewLoader().LoadGuest(path)
	if err != nil {
		return nil, err
	}
	return e.Compile(ctx, wasm)
}
