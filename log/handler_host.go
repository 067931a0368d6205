//go:build !wasip1

package log

import (
	"context"
	"fmt"
)

// defaultSink for non-WASM builds, where no host import exists. Callers
// running a guest in-process install a real sink with WithSink.
func defaultSink(_ context.Context, data []byte) error {
	fmt.Printf("[GUEST-STUB] %s\n", data)
	return nil
}
