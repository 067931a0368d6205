package wazero

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/reglet-dev/memexchange/hostfuncs"
	"github.com/reglet-dev/memexchange/internal/abi"
)

// AdapterConfig holds configuration for the wazero adapter.
type AdapterConfig struct {
	// ModuleName is the host module name (default: "exchange_host").
	ModuleName string
}

// AdapterOption configures the adapter.
type AdapterOption func(*AdapterConfig)

// WithModuleName sets the host module name (default: "exchange_host").
func WithModuleName(name string) AdapterOption {
	return func(c *AdapterConfig) {
		c.ModuleName = name
	}
}

// defaultAdapterConfig returns the default adapter configuration.
func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		ModuleName: abi.HostModule,
	}
}

// RegisterWithRuntime registers every handler of the bridge's registry as a
// function of a host module (default: "exchange_host").
//
// Exchange handlers are exported as (i32) -> i32 and notifications as
// (i32) -> (). Each exchange handler is wrapped to:
//   - Decode the guest's encoded reference and copy its payload out
//   - Free the guest's record and payload (the host is now their owner)
//   - Invoke the ByteHandler with the payload
//   - Allocate and write the reply through the guest's "allocate" export
//   - Return a fresh encoded reference owned by the guest, or 0 on failure
//
// Example:
//
//	registry, _ := hostfuncs.NewRegistry(
//	    hostfuncs.WithBundle(hostfuncs.ExchangeBundle()),
//	)
//	err := wazero.RegisterWithRuntime(ctx, runtime, hostfuncs.NewBridge(registry))
func RegisterWithRuntime(ctx context.Context, runtime wazero.Runtime, bridge *hostfuncs.Bridge, opts ...AdapterOption) error {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)
	i32 := []api.ValueType{api.ValueTypeI32}

	reg := bridge.Registry()
	for _, name := range reg.Names() {
		funcName := name // capture for closure
		if shape, _ := reg.Shape(funcName); shape == hostfuncs.ShapeNotify {
			builder.NewFunctionBuilder().
				WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
					bridge.Notify(ctx, NewGuest(mod), funcName, api.DecodeU32(stack[0]))
				}), i32, nil).
				Export(funcName)
			continue
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				reply := bridge.Exchange(ctx, NewGuest(mod), funcName, api.DecodeU32(stack[0]))
				stack[0] = api.EncodeU32(reply)
			}), i32, i32).
			Export(funcName)
	}

	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module %q: %w", cfg.ModuleName, err)
	}
	return nil
}
