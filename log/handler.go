// Package log provides structured logging (slog) for guests. Records are
// serialized as wireformat.LogMessageWire JSON and handed to a Sink; in a
// wasip1 guest the default sink ships them through the log_message host
// import, and the host re-emits them on its own slog logger.
package log

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/reglet-dev/memexchange/wireformat"
)

// Sink receives one serialized log record.
type Sink func(ctx context.Context, data []byte) error

// WasmLogHandler implements slog.Handler by serializing records for the host.
type WasmLogHandler struct {
	opts   handlerConfig
	attrs  []slog.Attr
	groups []string
}

// HandlerOption configures the WasmLogHandler.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	sink      Sink
	level     slog.Level
	addSource bool
}

// defaultHandlerConfig returns the default configuration.
func defaultHandlerConfig() handlerConfig {
	return handlerConfig{
		level: slog.LevelInfo,
		sink:  defaultSink,
	}
}

// WithLevel sets the minimum log level to report.
// Records below this level will be filtered on the guest side.
func WithLevel(level slog.Level) HandlerOption {
	return func(c *handlerConfig) {
		c.level = level
	}
}

// WithSource enables reporting of source location (file/line).
func WithSource(enabled bool) HandlerOption {
	return func(c *handlerConfig) {
		c.addSource = enabled
	}
}

// WithSink replaces where serialized records go.
func WithSink(sink Sink) HandlerOption {
	return func(c *handlerConfig) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// NewHandler creates a new WasmLogHandler with the given options.
func NewHandler(opts ...HandlerOption) *WasmLogHandler {
	cfg := defaultHandlerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &WasmLogHandler{opts: cfg}
}

// Enabled reports whether the handler handles records at the given level.
func (h *WasmLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.level
}

// WithAttrs returns a new WasmLogHandler that includes the given attributes.
func (h *WasmLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := h.clone()
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return next
}

// WithGroup returns a new WasmLogHandler whose later attributes are
// prefixed with name.
func (h *WasmLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.groups = append(next.groups, name)
	return next
}

// Handle serializes record and hands it to the sink.
func (h *WasmLogHandler) Handle(ctx context.Context, record slog.Record) error {
	msg := toLogMessageWire(ctx, record)

	attrs := make([]wireformat.LogAttrWire, 0, len(h.attrs)+record.NumAttrs()+1)
	for _, a := range h.attrs {
		attrs = append(attrs, toLogAttrWire(a))
	}
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, toLogAttrWire(h.qualify(attr)))
		return true
	})
	if h.opts.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		attrs = append(attrs, toLogAttrWire(slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", frame.File, frame.Line))))
	}
	if len(attrs) > 0 {
		msg.Attrs = attrs
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal log message: %w", err)
	}
	return h.opts.sink(ctx, data)
}

func (h *WasmLogHandler) clone() *WasmLogHandler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	next.groups = append([]string(nil), h.groups...)
	return &next
}

func (h *WasmLogHandler) qualify(a slog.Attr) slog.Attr {
	for i := len(h.groups) - 1; i >= 0; i-- {
		a.Key = h.groups[i] + "." + a.Key
	}
	return a
}
