package wazero

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/domain/ports"
	"github.com/reglet-dev/memexchange/internal/abi"
)

// Guest adapts an api.Module to ports.Guest.
type Guest struct {
	mod api.Module
}

// NewGuest wraps mod. It is cheap enough to call per host function call.
func NewGuest(mod api.Module) *Guest {
	return &Guest{mod: mod}
}

// Call implements ports.Guest.
func (g *Guest) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := g.mod.ExportedFunction(name)
	if fn == nil {
		return nil, &errs.ProtocolError{Op: "call", Reason: fmt.Sprintf("guest %s has no export %q", g.mod.Name(), name)}
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, fmt.Errorf("guest %s trapped in %s: %w", g.mod.Name(), name, err)
	}
	return results, nil
}

// Name returns the module's instance name.
func (g *Guest) Name() string {
	return g.mod.Name()
}

// Memory implements ports.Guest.
func (g *Guest) Memory() abi.Memory {
	return g.mod.Memory()
}

// Instance adapts an instantiated api.Module to ports.Instance.
type Instance struct {
	*Guest
}

var _ ports.Instance = (*Instance)(nil)

// NewInstance wraps mod. Closing the instance closes the module.
func NewInstance(mod api.Module) *Instance {
	return &Instance{Guest: NewGuest(mod)}
}

// Close implements ports.Instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}

// MissingExports returns the required exports mod lacks.
func MissingExports(mod api.Module) []string {
	var missing []string
	if mod.Memory() == nil {
		missing = append(missing, abi.ExportMemory)
	}
	for _, name := range abi.RequiredExports {
		if mod.ExportedFunction(name) == nil {
			missing = append(missing, name)
		}
	}
	return missing
}
