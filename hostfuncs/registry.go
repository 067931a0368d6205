package hostfuncs

import (
	"context"
	"errors"
	"fmt"
	"sort"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/internal/abi"
)

// Shape is the boundary signature a host import is exported with.
type Shape int

const (
	// ShapeExchange is (encoded_ref) -> encoded_ref. The guest receives the
	// handler's reply and owns it.
	ShapeExchange Shape = iota
	// ShapeNotify is (encoded_ref) -> (). The reply is discarded.
	ShapeNotify
)

func (s Shape) String() string {
	switch s {
	case ShapeExchange:
		return "exchange"
	case ShapeNotify:
		return "notify"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

type entry struct {
	handler ByteHandler
	shape   Shape
}

// HandlerRegistry is the immutable set of imports the host offers a guest on
// the exchange_host module. Lookups need no locking.
type HandlerRegistry struct {
	entries map[string]entry
	names   []string // sorted
}

type registryBuilder struct {
	entries    map[string]entry
	middleware []Middleware
	errors     []error
}

// NewRegistry builds a registry. Every registration problem is reported, not
// only the first.
//
//	registry, err := NewRegistry(
//	    WithMiddleware(PanicRecoveryMiddleware()),
//	    WithBundle(ExchangeBundle()),
//	    WithByteHandler("custom", customHandler),
//	)
func NewRegistry(opts ...RegistryOption) (*HandlerRegistry, error) {
	b := &registryBuilder{entries: make(map[string]entry)}
	for _, opt := range opts {
		opt(b)
	}
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("invalid host imports: %w", errors.Join(b.errors...))
	}

	r := &HandlerRegistry{
		entries: make(map[string]entry, len(b.entries)),
		names:   make([]string, 0, len(b.entries)),
	}
	for name, e := range b.entries {
		// First middleware ends up outermost.
		for i := len(b.middleware) - 1; i >= 0; i-- {
			e.handler = b.middleware[i](e.handler)
		}
		r.entries[name] = e
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Invoke runs the handler registered under name with payload. An unknown
// name fails with *errs.CallbackUnavailableError.
func (r *HandlerRegistry) Invoke(ctx context.Context, name string, payload []byte) ([]byte, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, &errs.CallbackUnavailableError{Module: abi.HostModule, Name: name}
	}
	return e.handler(HostContextFrom(ctx, name), payload)
}

// Has reports whether name is registered.
func (r *HandlerRegistry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Shape returns the signature name is exported with.
func (r *HandlerRegistry) Shape(name string) (Shape, bool) {
	e, ok := r.entries[name]
	return e.shape, ok
}

// Names returns the registered names, sorted.
func (r *HandlerRegistry) Names() []string {
	result := make([]string, len(r.names))
	copy(result, r.names)
	return result
}

func (b *registryBuilder) add(name string, handler ByteHandler, shape Shape) {
	switch {
	case name == "":
		b.errors = append(b.errors, errors.New("handler name cannot be empty"))
	case handler == nil:
		b.errors = append(b.errors, fmt.Errorf("handler %q is nil", name))
	default:
		if _, exists := b.entries[name]; exists {
			b.errors = append(b.errors, fmt.Errorf("duplicate handler name: %q", name))
			return
		}
		b.entries[name] = entry{handler: handler, shape: shape}
	}
}

// WithByteHandler registers an exchange import.
func WithByteHandler(name string, handler ByteHandler) RegistryOption {
	return func(b *registryBuilder) {
		b.add(name, handler, ShapeExchange)
	}
}

// WithNotification registers an import the guest calls for its side effect
// only, such as log_message.
func WithNotification(name string, handler ByteHandler) RegistryOption {
	return func(b *registryBuilder) {
		b.add(name, handler, ShapeNotify)
	}
}

// WithMiddleware wraps every handler. The first middleware added runs first.
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(b *registryBuilder) {
		b.middleware = append(b.middleware, mw...)
	}
}
