// Package wasmcontext converts between Go contexts and the wire format a
// guest attaches to the records it sends the host. Only scalars cross the
// boundary, so a guest reconstructs what it knows of the host's context from
// what the host gave it and sends it back the same way.
package wasmcontext

import (
	stdcontext "context"
	"time"

	"github.com/reglet-dev/memexchange/wireformat"
)

// contextKey is a type alias for context value keys to avoid collisions.
type contextKey string

// RequestIDKey is the context key for request ID.
const RequestIDKey contextKey = "request_id"

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx stdcontext.Context, id string) stdcontext.Context {
	return stdcontext.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request ID carried by ctx, if any.
func RequestID(ctx stdcontext.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDKey).(string)
	return id, ok && id != ""
}

// ContextToWire converts a stdcontext.Context to ContextWireFormat.
//
// It extracts:
// - Deadline (timeout)
// - Cancellation status
// - Request ID (key: RequestIDKey)
func ContextToWire(ctx stdcontext.Context) wireformat.ContextWireFormat {
	wire := wireformat.ContextWireFormat{}

	if deadline, ok := ctx.Deadline(); ok {
		wire.Deadline = &deadline
		if timeout := time.Until(deadline); timeout > 0 {
			wire.TimeoutMs = timeout.Milliseconds()
		}
	}

	select {
	case <-ctx.Done():
		wire.Canceled = true
	default:
	}

	if id, ok := RequestID(ctx); ok {
		wire.RequestID = id
	}

	return wire
}

// WireToContext converts a ContextWireFormat back to a stdcontext.Context
// derived from parent. If parent is nil, context.Background() is used.
// Returns the new context and its CancelFunc.
func WireToContext(parent stdcontext.Context, wire wireformat.ContextWireFormat) (stdcontext.Context, stdcontext.CancelFunc) {
	if parent == nil {
		parent = stdcontext.Background()
	}

	var (
		ctx    stdcontext.Context
		cancel stdcontext.CancelFunc
	)
	switch {
	case wire.Deadline != nil:
		ctx, cancel = stdcontext.WithDeadline(parent, *wire.Deadline)
	case wire.TimeoutMs > 0:
		ctx, cancel = stdcontext.WithTimeout(parent, time.Duration(wire.TimeoutMs)*time.Millisecond)
	default:
		ctx, cancel = stdcontext.WithCancel(parent)
	}

	if wire.RequestID != "" {
		ctx = WithRequestID(ctx, wire.RequestID)
	}

	if wire.Canceled {
		cancel()
	}

	return ctx, cancel
}
