// Package guestcall wraps the scalar guest exports with the protocol's
// status handling: a result is only trusted once last_status says OK.
package guestcall

import (
	"context"
	"fmt"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/domain/ports"
	"github.com/reglet-dev/memexchange/internal/abi"
)

// Call invokes an export that returns at most one i32, then reads
// last_status. A non-OK status is returned as *errs.StatusError.
func Call(ctx context.Context, g ports.Guest, name string, params ...uint32) (uint32, error) {
	args := make([]uint64, len(params))
	for i, p := range params {
		args[i] = uint64(p)
	}

	results, err := g.Call(ctx, name, args...)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", name, err)
	}

	var out uint32
	if len(results) > 0 {
		out = uint32(results[0]) //nolint:gosec // G115: i32 results are widened to uint64
	}

	status, err := Status(ctx, g)
	if err != nil {
		return 0, err
	}
	if status != errs.StatusOK {
		return out, &errs.StatusError{Op: name, Status: status}
	}
	return out, nil
}

// Status reads the guest's last_status export.
func Status(ctx context.Context, g ports.Guest) (errs.Status, error) {
	results, err := g.Call(ctx, abi.ExportLastStatus)
	if err != nil {
		return errs.StatusInternal, fmt.Errorf("call %s: %w", abi.ExportLastStatus, err)
	}
	if len(results) == 0 {
		return errs.StatusInternal, &errs.ProtocolError{Op: abi.ExportLastStatus, Reason: "export returned no result"}
	}
	return errs.Status(uint32(results[0])), nil //nolint:gosec // G115: i32 result
}

// Allocate reserves n bytes in the guest.
func Allocate(ctx context.Context, g ports.Guest, n uint32) (uint32, error) {
	return Call(ctx, g, abi.ExportAllocate, n)
}

// Free releases a guest block of exactly n bytes.
func Free(ctx context.Context, g ports.Guest, ptr, n uint32) error {
	_, err := Call(ctx, g, abi.ExportFree, ptr, n)
	return err
}

// AllocFunc adapts Allocate to abi.AllocFunc for use with abi.Encode.
func AllocFunc(ctx context.Context, g ports.Guest) abi.AllocFunc {
	return func(n uint32) (uint32, error) {
		return Allocate(ctx, g, n)
	}
}

// LiveBlocks reads the guest's live_blocks export.
func LiveBlocks(ctx context.Context, g ports.Guest) (uint32, error) {
	results, err := g.Call(ctx, abi.ExportLiveBlocks)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", abi.ExportLiveBlocks, err)
	}
	if len(results) == 0 {
		return 0, &errs.ProtocolError{Op: abi.ExportLiveBlocks, Reason: "export returned no result"}
	}
	return uint32(results[0]), nil //nolint:gosec // G115: i32 result
}

// Send copies data into a fresh guest block, encodes a record for it and
// returns the record pointer. Ownership of both blocks passes to whoever
// receives the pointer. On failure anything already allocated is freed.
func Send(ctx context.Context, g ports.Guest, data []byte) (uint32, error) {
	n := uint32(len(data)) //nolint:gosec // G115: bounded by request limits
	ptr, err := Allocate(ctx, g, n)
	if err != nil {
		return 0, err
	}
	if n > 0 && !g.Memory().Write(ptr, data) {
		_ = Free(ctx, g, ptr, n)
		return 0, &errs.ProtocolError{Op: "write", Ptr: ptr, Len: n, Reason: "block outside linear memory"}
	}
	rec, err := abi.Encode(g.Memory(), AllocFunc(ctx, g), abi.SizedRef{Ptr: ptr, Len: n})
	if err != nil {
		_ = Free(ctx, g, ptr, n)
		return 0, err
	}
	return rec, nil
}

// Receive takes ownership of the record at rec: it decodes the record, copies
// the payload out, and frees both blocks. maxLen bounds the payload; 0 means
// no bound.
func Receive(ctx context.Context, g ports.Guest, rec, maxLen uint32) ([]byte, error) {
	ref, err := abi.Decode(g.Memory(), rec)
	if err != nil {
		return nil, err
	}
	if maxLen > 0 && ref.Len > maxLen {
		_ = Free(ctx, g, ref.Ptr, ref.Len)
		_ = Free(ctx, g, rec, abi.RefSize)
		return nil, &errs.ProtocolError{Op: "receive", Ptr: ref.Ptr, Len: ref.Len, Reason: fmt.Sprintf("payload exceeds %d bytes", maxLen)}
	}
	data, err := abi.ReadPayload(g.Memory(), ref)
	if err != nil {
		return nil, err
	}
	if err := Free(ctx, g, ref.Ptr, ref.Len); err != nil {
		return nil, err
	}
	if err := Free(ctx, g, rec, abi.RefSize); err != nil {
		return nil, err
	}
	return data, nil
}
