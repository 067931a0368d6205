package ports

import (
	"context"

	"github.com/reglet-dev/memexchange/internal/abi"
)

// Guest is a view of one guest instance sufficient to drive the protocol:
// calling its exports and reading or writing its linear memory.
type Guest interface {
	// Call invokes the named export with i32 arguments widened to uint64, the
	// same convention wazero uses.
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)

	// Memory returns the guest's linear memory.
	Memory() abi.Memory
}

// Instance is a guest the caller owns and must close.
type Instance interface {
	Guest

	// Name identifies the instance in logs and transcripts.
	Name() string

	// Close releases the instance. It waits for an outstanding export call
	// to return before tearing the instance down.
	Close(ctx context.Context) error
}
