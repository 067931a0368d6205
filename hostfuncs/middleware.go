package hostfuncs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

type elapsedKey struct{}

// HandlerElapsed returns the handler time LoggingMiddleware stored on hc.
func HandlerElapsed(hc HostContext) (time.Duration, bool) {
	v, ok := hc.GetValue(elapsedKey{})
	if !ok {
		return 0, false
	}
	d, ok := v.(time.Duration)
	return d, ok
}

// Middleware is a function that wraps a ByteHandler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
//
// Example usage:
//
//	timing := func(next ByteHandler) ByteHandler {
//	    return func(ctx context.Context, payload []byte) ([]byte, error) {
//	        start := time.Now()
//	        defer func() { slog.Debug("handled", "took", time.Since(start)) }()
//	        return next(ctx, payload)
//	    }
//	}
type Middleware func(next ByteHandler) ByteHandler

// RegistryOption is a functional option for configuring a HandlerRegistry.
type RegistryOption func(*registryBuilder)

// PanicRecoveryMiddleware returns a middleware that converts handler panics
// into a *PanicError instead of crashing the host. The guest sees a failed
// callback.
func PanicRecoveryMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = nil
					err = NewPanicError(r, debug.Stack())
				}
			}()
			return next(ctx, payload)
		}
	}
}

// LoggingMiddleware returns a middleware that logs host function invocations.
// The handler's run time is stored on the HostContext; see HandlerElapsed.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			funcName := "unknown"
			hc, isHost := ctx.(HostContext)
			if isHost {
				funcName = hc.FunctionName()
			}
			logger.DebugContext(ctx, "invoking host function", "function", funcName, "bytes", len(payload))

			start := time.Now()
			resp, err := next(ctx, payload)
			took := time.Since(start)
			if isHost {
				hc.SetValue(elapsedKey{}, took)
			}

			if err != nil {
				logger.ErrorContext(ctx, "host function failed", "function", funcName, "error", err, "took", took)
			} else {
				logger.DebugContext(ctx, "host function completed", "function", funcName, "bytes", len(resp), "took", took)
			}
			return resp, err
		}
	}
}

// MaxResponseSizeMiddleware rejects handler replies larger than limit before
// they are written into guest memory.
func MaxResponseSizeMiddleware(limit uint32) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			resp, err := next(ctx, payload)
			if err != nil {
				return nil, err
			}
			if uint64(len(resp)) > uint64(limit) {
				return nil, fmt.Errorf("response size %d exceeds maximum %d bytes", len(resp), limit)
			}
			return resp, nil
		}
	}
}
