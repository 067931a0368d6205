package log

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/reglet-dev/memexchange/internal/wasmcontext"
	"github.com/reglet-dev/memexchange/wireformat"
)

func toLogMessageWire(ctx context.Context, record slog.Record) wireformat.LogMessageWire {
	return wireformat.LogMessageWire{
		Context:   wasmcontext.ContextToWire(ctx),
		Level:     record.Level.String(),
		Message:   record.Message,
		Timestamp: record.Time,
	}
}

// toLogAttrWire converts a slog.Attr to LogAttrWire.
func toLogAttrWire(attr slog.Attr) wireformat.LogAttrWire {
	wire := wireformat.LogAttrWire{
		Key: attr.Key,
	}
	attr.Value = attr.Value.Resolve()

	switch attr.Value.Kind() {
	case slog.KindString:
		wire.Type = "string"
		wire.Value = attr.Value.String()
	case slog.KindInt64:
		wire.Type = "int64"
		wire.Value = fmt.Sprintf("%d", attr.Value.Int64())
	case slog.KindUint64:
		wire.Type = "uint64"
		wire.Value = fmt.Sprintf("%d", attr.Value.Uint64())
	case slog.KindBool:
		wire.Type = "bool"
		wire.Value = fmt.Sprintf("%t", attr.Value.Bool())
	case slog.KindFloat64:
		wire.Type = "float64"
		wire.Value = fmt.Sprintf("%f", attr.Value.Float64())
	case slog.KindTime:
		wire.Type = "time"
		wire.Value = attr.Value.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		wire.Type = "duration"
		wire.Value = attr.Value.Duration().String()
	case slog.KindAny:
		if v := attr.Value.Any(); v != nil {
			if err, isErr := v.(error); isErr {
				wire.Type = "error"
				wire.Value = err.Error()
			} else if data, marshalErr := json.Marshal(v); marshalErr == nil {
				wire.Type = "json"
				wire.Value = string(data)
			} else {
				wire.Type = "any"
				wire.Value = fmt.Sprintf("%v", v)
			}
		} else {
			wire.Type = "any"
			wire.Value = "<nil>"
		}
	case slog.KindGroup:
		// Groups are flattened to their printed form; the wire format is flat.
		wire.Type = "group"
		wire.Value = fmt.Sprintf("%v", attr.Value.Any())
	default:
		wire.Type = "any"
		wire.Value = fmt.Sprintf("%v", attr.Value.Any())
	}
	return wire
}

// FromWire turns a decoded record back into a context, level, message and
// attributes suitable for slog.Logger.LogAttrs on the host. The returned
// CancelFunc must be called once the record has been logged.
func FromWire(parent context.Context, msg wireformat.LogMessageWire) (context.Context, context.CancelFunc, slog.Level, []slog.Attr) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(msg.Level)); err != nil {
		level = slog.LevelInfo
	}

	// Only the request ID is carried over; the guest's deadline is already
	// enforced by the host call it came from.
	ctx, cancel := context.WithCancel(parent)
	if msg.Context.RequestID != "" {
		ctx = wasmcontext.WithRequestID(ctx, msg.Context.RequestID)
	}

	attrs := make([]slog.Attr, 0, len(msg.Attrs)+1)
	if msg.Context.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", msg.Context.RequestID))
	}
	for _, a := range msg.Attrs {
		attrs = append(attrs, fromLogAttrWire(a))
	}
	return ctx, cancel, level, attrs
}

func fromLogAttrWire(a wireformat.LogAttrWire) slog.Attr {
	switch a.Type {
	case "json":
		return slog.Any(a.Key, json.RawMessage(a.Value))
	default:
		return slog.String(a.Key, a.Value)
	}
}
