package hostfuncs

import (
	"context"
	"log/slog"

	"github.com/reglet-dev/memexchange/log"
	"github.com/reglet-dev/memexchange/wireformat"
)

// DefaultAppendSuffix is what host_append adds to the guest's fragment.
const DefaultAppendSuffix = ", I am doing good"

// AppendHandler returns the host_append handler: the reply is the guest's
// fragment followed by suffix.
func AppendHandler(suffix string) ByteHandler {
	return func(_ context.Context, payload []byte) ([]byte, error) {
		reply := make([]byte, 0, len(payload)+len(suffix))
		reply = append(reply, payload...)
		return append(reply, suffix...), nil
	}
}

// LogMessageHandler returns the log_message handler. It decodes a guest log
// record and re-emits it on logger with the guest's level and attributes.
func LogMessageHandler(logger *slog.Logger) ByteHandler {
	return NewJSONHandler(func(ctx context.Context, msg wireformat.LogMessageWire) struct{} {
		lctx, cancel, level, attrs := log.FromWire(ctx, msg)
		defer cancel()

		fn, instance := "guest", ""
		if hc, ok := ctx.(HostContext); ok {
			fn, instance = hc.FunctionName(), hc.InstanceName()
		}
		attrs = append(attrs, slog.String("via", fn))
		if instance != "" {
			attrs = append(attrs, slog.String("instance", instance))
		}
		logger.LogAttrs(lctx, level, msg.Message, attrs...)
		return struct{}{}
	})
}
