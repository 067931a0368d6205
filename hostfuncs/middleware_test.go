package hostfuncs

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanicRecoveryMiddleware(t *testing.T) {
	panicHandler := func(ctx context.Context, payload []byte) ([]byte, error) {
		panic("test panic")
	}

	mw := PanicRecoveryMiddleware()
	wrapped := mw(panicHandler)

	// Should not panic, should return a PanicError
	resp, err := wrapped(context.Background(), []byte("{}"))
	require.Error(t, err)
	assert.Nil(t, resp)

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "test panic", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, "panic: test panic", err.Error())
}

func TestPanicRecoveryMiddleware_NoPanic(t *testing.T) {
	normalHandler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte(`{"result":"ok"}`), nil
	}

	mw := PanicRecoveryMiddleware()
	wrapped := mw(normalHandler)

	resp, err := wrapped(context.Background(), []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, `{"result":"ok"}`, string(resp))
}

func TestMiddlewareOrder_FIFO(t *testing.T) {
	var callOrder []string

	middleware1 := func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			callOrder = append(callOrder, "mw1-before")
			resp, err := next(ctx, payload)
			callOrder = append(callOrder, "mw1-after")
			return resp, err
		}
	}

	middleware2 := func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			callOrder = append(callOrder, "mw2-before")
			resp, err := next(ctx, payload)
			callOrder = append(callOrder, "mw2-after")
			return resp, err
		}
	}

	middleware3 := func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			callOrder = append(callOrder, "mw3-before")
			resp, err := next(ctx, payload)
			callOrder = append(callOrder, "mw3-after")
			return resp, err
		}
	}

	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		callOrder = append(callOrder, "handler")
		return nil, nil
	}

	reg, err := NewRegistry(
		WithMiddleware(middleware1, middleware2, middleware3),
		WithByteHandler("test", handler),
	)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "test", nil)
	require.NoError(t, err)

	// FIFO: mw1 wraps mw2 wraps mw3 wraps handler (onion model)
	expected := []string{
		"mw1-before", "mw2-before", "mw3-before",
		"handler",
		"mw3-after", "mw2-after", "mw1-after",
	}
	assert.Equal(t, expected, callOrder)
}

func TestMiddleware_AppliesToAllHandlers(t *testing.T) {
	handlerCalls := make(map[string]bool)

	trackingMiddleware := func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if hc, ok := ctx.(HostContext); ok {
				handlerCalls[hc.FunctionName()] = true
			}
			return next(ctx, payload)
		}
	}

	handler1 := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, nil
	}
	handler2 := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, nil
	}

	reg, err := NewRegistry(
		WithMiddleware(trackingMiddleware),
		WithByteHandler("handler1", handler1),
		WithByteHandler("handler2", handler2),
	)
	require.NoError(t, err)

	_, _ = reg.Invoke(context.Background(), "handler1", nil)
	_, _ = reg.Invoke(context.Background(), "handler2", nil)

	assert.True(t, handlerCalls["handler1"])
	assert.True(t, handlerCalls["handler2"])
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	reg, err := NewRegistry(
		WithMiddleware(LoggingMiddleware(logger)),
		WithByteHandler("ok", func(ctx context.Context, payload []byte) ([]byte, error) {
			return []byte("ok"), nil
		}),
		WithByteHandler("broken", func(ctx context.Context, payload []byte) ([]byte, error) {
			return nil, errors.New("backend down")
		}),
	)
	require.NoError(t, err)

	_, err = reg.Invoke(context.Background(), "ok", nil)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "invoking host function")
	assert.Contains(t, out, "host function completed")
	assert.Contains(t, out, "function=ok")

	hc := NewHostContext(context.Background(), "ok")
	_, err = reg.Invoke(hc, "ok", nil)
	require.NoError(t, err)
	_, ok := HandlerElapsed(hc)
	assert.True(t, ok, "handler time is stored on the host context")

	buf.Reset()
	_, err = reg.Invoke(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "backend down")
}

func TestMaxResponseSizeMiddleware(t *testing.T) {
	reply := func(n int) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			return bytes.Repeat([]byte("x"), n), nil
		}
	}

	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "under limit", size: 10},
		{name: "at limit", size: 16},
		{name: "over limit", size: 17, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := MaxResponseSizeMiddleware(16)(reply(tt.size))(context.Background(), nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "exceeds maximum 16 bytes")
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Len(t, resp, tt.size)
		})
	}
}
