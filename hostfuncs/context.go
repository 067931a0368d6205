package hostfuncs

import (
	"context"

	"github.com/reglet-dev/memexchange/domain/ports"
)

// HostContext wraps a standard context.Context with host function-specific helpers.
// It exposes the invoked import and the guest that called it, and lets
// middleware store request-scoped values without polluting the standard context.
type HostContext interface {
	context.Context

	// FunctionName returns the name of the host function being invoked.
	FunctionName() string

	// Caller returns the guest whose import call is being served, or nil
	// when the handler runs outside a boundary call.
	Caller() ports.Guest

	// InstanceName names the calling guest instance, or "" if unknown.
	InstanceName() string

	// SetValue stores a request-scoped value. Unlike context.WithValue,
	// this mutates the existing HostContext for performance.
	SetValue(key, value any)

	// GetValue retrieves a request-scoped value set by SetValue.
	GetValue(key any) (value any, ok bool)
}

// hostContext is the concrete implementation of HostContext.
type hostContext struct {
	context.Context
	values   map[any]any
	funcName string
}

// NewHostContext creates a new HostContext wrapping the given context.
func NewHostContext(ctx context.Context, funcName string) HostContext {
	return &hostContext{
		Context:  ctx,
		funcName: funcName,
		values:   make(map[any]any),
	}
}

// FunctionName returns the name of the host function being invoked.
func (c *hostContext) FunctionName() string {
	return c.funcName
}

type callerKey struct{}

// WithCaller records the guest serving as caller for handlers invoked under ctx.
func WithCaller(ctx context.Context, caller ports.Guest) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller returns the guest recorded by WithCaller.
func (c *hostContext) Caller() ports.Guest {
	g, _ := c.Value(callerKey{}).(ports.Guest)
	return g
}

// InstanceName returns the caller's name when the caller has one.
func (c *hostContext) InstanceName() string {
	if named, ok := c.Caller().(interface{ Name() string }); ok {
		return named.Name()
	}
	return ""
}

// SetValue stores a request-scoped value.
func (c *hostContext) SetValue(key, value any) {
	c.values[key] = value
}

// GetValue retrieves a request-scoped value.
func (c *hostContext) GetValue(key any) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// HostContextFrom extracts a HostContext from a context.Context.
// If the context is already a HostContext, it is returned directly.
// Otherwise, a new HostContext is created wrapping the given context.
func HostContextFrom(ctx context.Context, funcName string) HostContext {
	if hc, ok := ctx.(HostContext); ok {
		return hc
	}
	return NewHostContext(ctx, funcName)
}
