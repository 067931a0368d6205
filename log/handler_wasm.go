//go:build wasip1

package log

import (
	"context"
	"fmt"
	"log/slog"
)

// Define the host function signature for logging messages.
//
//go:wasmimport exchange_host log_message
//nolint:revive // intentional snake_case to match WASM import convention
func host_log_message(encodedRef uint32)

// encoder places a serialized record in linear memory and returns an
// encoded reference the host takes ownership of.
var encoder func(data []byte) (uint32, error)

// UseEncoder installs how records are written into guest memory. Until it is
// called, records fall back to stdout.
func UseEncoder(fn func(data []byte) (uint32, error)) {
	encoder = fn
}

func defaultSink(_ context.Context, data []byte) error {
	if encoder == nil {
		fmt.Printf("%s\n", data)
		return nil
	}
	rec, err := encoder(data)
	if err != nil {
		return fmt.Errorf("failed to encode log message: %w", err)
	}
	host_log_message(rec)
	return nil
}

// init configures the default slog handler to use our WasmLogHandler.
func init() {
	slog.SetDefault(slog.New(NewHandler()))
}
