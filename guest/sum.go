package guest

import (
	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/internal/abi"
)

// SumBytes returns the sum of n bytes at ptr. Each byte is widened before it
// is added, so the result only wraps past 2^32.
func SumBytes(mem abi.Memory, ptr, n uint32) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	view, ok := mem.Read(ptr, n)
	if !ok {
		return 0, &errs.ProtocolError{Op: abi.ExportSumBytes, Ptr: ptr, Len: n, Reason: "range outside linear memory"}
	}
	var sum uint32
	for _, b := range view {
		sum += uint32(b)
	}
	return sum, nil
}
