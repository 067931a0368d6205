package hostfuncs

import (
	"context"
	"log/slog"

	"github.com/reglet-dev/memexchange/domain/entities"
	"github.com/reglet-dev/memexchange/domain/ports"
	"github.com/reglet-dev/memexchange/internal/guestcall"
)

// DefaultMaxRequestSize limits the size of payloads read from a guest (1MB).
// This prevents a guest from making the host copy a huge claimed length.
const DefaultMaxRequestSize = 1 * 1024 * 1024

// Bridge connects scalar guest imports to registry handlers.
//
// For every call the host is the receiver of the guest's record and payload:
// it copies the payload out and frees both blocks before the handler runs.
// A reply is written into a fresh guest block with a fresh record, both owned
// by the guest once the import returns.
type Bridge struct {
	registry       *HandlerRegistry
	logger         *slog.Logger
	maxRequestSize uint32
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithMaxRequestSize sets the largest payload accepted from a guest.
func WithMaxRequestSize(size uint32) BridgeOption {
	return func(b *Bridge) {
		b.maxRequestSize = size
	}
}

// WithBridgeLogger sets the logger for callback failures.
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// NewBridge creates a bridge dispatching to registry.
func NewBridge(registry *HandlerRegistry, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		registry:       registry,
		logger:         slog.Default(),
		maxRequestSize: DefaultMaxRequestSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the handler registry.
func (b *Bridge) Registry() *HandlerRegistry {
	return b.registry
}

// Exchange serves an import of shape (encoded_ref) -> encoded_ref. It never
// fails across the boundary: errors become a 0 result and are reported to the
// Recorder attached to ctx.
func (b *Bridge) Exchange(ctx context.Context, caller ports.Guest, name string, encodedRef uint32) uint32 {
	hc := NewHostContext(WithCaller(ctx, caller), name)
	reply, err := b.exchange(hc, caller, name, encodedRef)
	step := entities.Step{
		Direction: entities.GuestToHost,
		Call:      name,
		Params:    []uint32{encodedRef},
		Result:    reply,
	}
	if took, ok := HandlerElapsed(hc); ok {
		step.Elapsed = took
	}
	if err != nil {
		step.Note = err.Error()
		b.fail(ctx, name, err)
	}
	RecorderFrom(ctx).Step(step)
	return reply
}

func (b *Bridge) exchange(hc HostContext, caller ports.Guest, name string, encodedRef uint32) (uint32, error) {
	payload, err := guestcall.Receive(hc, caller, encodedRef, b.maxRequestSize)
	if err != nil {
		return 0, err
	}
	resp, err := b.registry.Invoke(hc, name, payload)
	if err != nil {
		return 0, err
	}
	return guestcall.Send(hc, caller, resp)
}

// Notify serves an import of shape (encoded_ref) -> (). The handler's reply
// is discarded.
func (b *Bridge) Notify(ctx context.Context, caller ports.Guest, name string, encodedRef uint32) {
	payload, err := guestcall.Receive(ctx, caller, encodedRef, b.maxRequestSize)
	if err == nil {
		_, err = b.registry.Invoke(WithCaller(ctx, caller), name, payload)
	}
	if err != nil {
		// Notifications are best effort; they never fail a conversation.
		b.logger.WarnContext(ctx, "host notification failed", "function", name, "error", err)
	}
}

func (b *Bridge) fail(ctx context.Context, name string, err error) {
	b.logger.ErrorContext(ctx, "host callback failed", "function", name, "error", err)
	RecorderFrom(ctx).Fail(&CallbackError{Name: name, Err: err})
}
