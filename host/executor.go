package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/hostfuncs"
	wazeroadapter "github.com/reglet-dev/memexchange/infrastructure/wazero"
	"github.com/reglet-dev/memexchange/internal/abi"
)

// DefaultMemoryLimitPages caps guest memory at 16 MiB plus headroom.
const DefaultMemoryLimitPages = 512

// Executor manages a wazero runtime and the guests compiled on it.
type Executor struct {
	runtime          wazero.Runtime
	registry         *hostfuncs.HandlerRegistry
	bridge           *hostfuncs.Bridge
	logger           *slog.Logger
	seq              atomic.Uint64
	memoryLimitPages uint32
	maxRequestSize   uint32
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	e := &Executor{
		logger:           slog.Default(),
		memoryLimitPages: DefaultMemoryLimitPages,
		maxRequestSize:   hostfuncs.DefaultMaxRequestSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	// Default registry if not provided
	if e.registry == nil {
		reg, err := DefaultRegistry(e.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create default registry: %w", err)
		}
		e.registry = reg
	}
	e.bridge = hostfuncs.NewBridge(e.registry,
		hostfuncs.WithMaxRequestSize(e.maxRequestSize),
		hostfuncs.WithBridgeLogger(e.logger),
	)

	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(e.memoryLimitPages)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)
	e.runtime = rt

	if err := wazeroadapter.RegisterWithRuntime(ctx, rt, e.bridge); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	return e, nil
}

// DefaultRegistry returns the registry an Executor uses when none is given:
// the exchange bundle behind panic recovery and logging middleware.
func DefaultRegistry(logger *slog.Logger, opts ...hostfuncs.BundleOption) (*hostfuncs.HandlerRegistry, error) {
	bundleOpts := append([]hostfuncs.BundleOption{hostfuncs.WithGuestLogger(logger)}, opts...)
	return hostfuncs.NewRegistry(
		hostfuncs.WithMiddleware(
			hostfuncs.PanicRecoveryMiddleware(),
			hostfuncs.LoggingMiddleware(logger),
			hostfuncs.MaxResponseSizeMiddleware(hostfuncs.DefaultMaxRequestSize),
		),
		hostfuncs.WithBundle(hostfuncs.ExchangeBundle(bundleOpts...)),
	)
}

// Bridge returns the bridge serving guest imports.
func (e *Executor) Bridge() *hostfuncs.Bridge {
	return e.bridge
}

// Close releases resources held by the executor.
func (e *Executor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Compile compiles wasm and checks its imports against the host. A function
// import the host does not provide, or imports with a different signature,
// fails with a CallbackUnavailableError before anything is instantiated.
func (e *Executor) Compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}

	for _, fn := range compiled.ImportedFunctions() {
		module, name, _ := fn.Import()
		switch module {
		case wasi_snapshot_preview1.ModuleName:
			continue
		case abi.HostModule:
			if shape, ok := e.registry.Shape(name); ok && shapeMatches(shape, fn) {
				continue
			}
		}
		_ = compiled.Close(ctx)
		return nil, &errs.CallbackUnavailableError{Module: module, Name: name}
	}
	return compiled, nil
}

func shapeMatches(shape hostfuncs.Shape, fn api.FunctionDefinition) bool {
	params, results := fn.ParamTypes(), fn.ResultTypes()
	if len(params) != 1 || params[0] != api.ValueTypeI32 {
		return false
	}
	if shape == hostfuncs.ShapeNotify {
		return len(results) == 0
	}
	return len(results) == 1 && results[0] == api.ValueTypeI32
}

// Instantiate creates a fresh, isolated instance of compiled. The guest must
// export the protocol's functions and memory.
func (e *Executor) Instantiate(ctx context.Context, compiled wazero.CompiledModule) (*wazeroadapter.Instance, error) {
	name := fmt.Sprintf("guest-%d", e.seq.Add(1))
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	// Go reactors (-buildmode=c-shared) initialize their runtime here.
	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("failed to call _initialize: %w", err)
		}
	}

	if missing := wazeroadapter.MissingExports(mod); len(missing) > 0 {
		_ = mod.Close(ctx)
		return nil, &errs.ProtocolError{
			Op:     "instantiate",
			Reason: fmt.Sprintf("guest %s is missing exports %v", name, missing),
		}
	}

	e.logger.DebugContext(ctx, "guest instantiated", "instance", name)
	return wazeroadapter.NewInstance(mod), nil
}
