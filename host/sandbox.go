package host

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"

	"github.com/reglet-dev/memexchange/domain/ports"
	"github.com/reglet-dev/memexchange/hostfuncs"
	"github.com/reglet-dev/memexchange/infrastructure/native"
)

// Sandbox creates isolated guest instances. Every instance has its own linear
// memory and allocator; nothing one instance returns is meaningful to another.
type Sandbox interface {
	NewInstance(ctx context.Context) (ports.Instance, error)
	Close(ctx context.Context) error
}

// WazeroSandbox instantiates a compiled module on an Executor.
type WazeroSandbox struct {
	executor *Executor
	compiled wazero.CompiledModule
}

// NewWazeroSandbox compiles wasm on e.
func NewWazeroSandbox(ctx context.Context, e *Executor, wasm []byte) (*WazeroSandbox, error) {
	compiled, err := e.Compile(ctx, wasm)
	if err != nil {
		return nil, err
	}
	return &WazeroSandbox{executor: e, compiled: compiled}, nil
}

// NewInstance implements Sandbox.
func (s *WazeroSandbox) NewInstance(ctx context.Context) (ports.Instance, error) {
	inst, err := s.executor.Instantiate(ctx, s.compiled)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Close releases the compiled module. Instances must be closed separately.
func (s *WazeroSandbox) Close(ctx context.Context) error {
	return s.compiled.Close(ctx)
}

// NativeSandbox runs the in-process guest against a bridge.
type NativeSandbox struct {
	bridge *hostfuncs.Bridge
	opts   []native.Option
}

// NewNativeSandbox creates a native sandbox serving imports from bridge.
func NewNativeSandbox(bridge *hostfuncs.Bridge, opts ...native.Option) *NativeSandbox {
	return &NativeSandbox{bridge: bridge, opts: opts}
}

// NewInstance implements Sandbox.
func (s *NativeSandbox) NewInstance(ctx context.Context) (ports.Instance, error) {
	inst, err := native.Instantiate(ctx, s.bridge, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate native guest: %w", err)
	}
	return inst, nil
}

// Close implements Sandbox.
func (s *NativeSandbox) Close(context.Context) error {
	return nil
}
