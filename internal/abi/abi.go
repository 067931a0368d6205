// Package abi is the protocol schema shared by every side of the boundary:
// the host, the native Go guest and the wasip1 guest build all encode and
// decode references through this package.
//
// An EncodedReference is an 8-byte little-endian record stored in its own
// allocation block: bytes 0-3 hold the payload pointer, bytes 4-7 its length.
// A single i32 pointer to the record is what crosses the boundary.
package abi

import (
	"encoding/binary"

	errs "github.com/reglet-dev/memexchange/domain/errors"
)

// RefSize is the size in bytes of an encoded reference record.
const RefSize = 8

// PageSize is the WebAssembly page size.
const PageSize = 65536

// Memory is a guest's linear memory as seen by whoever holds the accessor.
// The method set is the subset of wazero's api.Memory the protocol needs, so
// a wazero memory satisfies it directly.
type Memory interface {
	// Size returns the current size in bytes.
	Size() uint32

	// Read returns a view of byteCount bytes at offset, or false if out of range.
	// The view may be invalidated by a later Grow.
	Read(offset, byteCount uint32) ([]byte, bool)

	// Write copies v to offset, or returns false if out of range.
	Write(offset uint32, v []byte) bool

	ReadUint32Le(offset uint32) (uint32, bool)
	WriteUint32Le(offset, v uint32) bool
}

// Grower is implemented by memories that can grow by whole pages.
type Grower interface {
	// Grow adds deltaPages and returns the previous page count, or false if
	// the memory cannot grow that far.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// AllocFunc reserves size bytes on behalf of the side doing the encoding.
// The host's version is a boundary call into the guest's allocate export;
// the guest's version calls its allocator directly.
type AllocFunc func(size uint32) (uint32, error)

// SizedRef is the logical (pointer, length) pair describing an allocation block.
type SizedRef struct {
	Ptr uint32 `json:"ptr"`
	Len uint32 `json:"len"`
}

// IsZero reports whether r is the reserved "no data" reference.
func (r SizedRef) IsZero() bool {
	return r.Ptr == 0 && r.Len == 0
}

// End returns the first offset past the block, widened so it cannot overflow.
func (r SizedRef) End() uint64 {
	return uint64(r.Ptr) + uint64(r.Len)
}

// PutRef writes the 8-byte record for ref into dst.
// It panics if len(dst) < RefSize.
func PutRef(dst []byte, ref SizedRef) {
	_ = dst[RefSize-1]
	binary.LittleEndian.PutUint32(dst[0:4], ref.Ptr)
	binary.LittleEndian.PutUint32(dst[4:8], ref.Len)
}

// ParseRef reads an 8-byte record from src.
// It panics if len(src) < RefSize.
func ParseRef(src []byte) SizedRef {
	_ = src[RefSize-1]
	return SizedRef{
		Ptr: binary.LittleEndian.Uint32(src[0:4]),
		Len: binary.LittleEndian.Uint32(src[4:8]),
	}
}

// InBounds reports whether [ptr, ptr+length) lies inside mem.
func InBounds(mem Memory, ptr, length uint32) bool {
	return uint64(ptr)+uint64(length) <= uint64(mem.Size())
}

// Encode allocates a fresh record through alloc, writes ref into it and
// returns the record's address. Ownership of the record passes to whoever
// receives the returned pointer.
func Encode(mem Memory, alloc AllocFunc, ref SizedRef) (uint32, error) {
	if ref.Ptr == 0 && ref.Len > 0 {
		return 0, &errs.ProtocolError{Op: "encode", Ptr: ref.Ptr, Len: ref.Len, Reason: "null pointer with non-zero length"}
	}
	if ref.Len > 0 && !InBounds(mem, ref.Ptr, ref.Len) {
		return 0, &errs.ProtocolError{Op: "encode", Ptr: ref.Ptr, Len: ref.Len, Reason: "payload outside linear memory"}
	}

	recPtr, err := alloc(RefSize)
	if err != nil {
		return 0, err
	}
	if err := WriteRef(mem, recPtr, ref); err != nil {
		return 0, err
	}
	return recPtr, nil
}

// WriteRef stores ref as a record at recPtr.
func WriteRef(mem Memory, recPtr uint32, ref SizedRef) error {
	var rec [RefSize]byte
	PutRef(rec[:], ref)
	if recPtr == 0 || !mem.Write(recPtr, rec[:]) {
		return &errs.ProtocolError{Op: "encode", Ptr: recPtr, Len: RefSize, Reason: "record outside linear memory"}
	}
	return nil
}

// Decode reads the record at recPtr. Both the record and the payload it
// describes must lie inside mem; anything else is a protocol violation.
// Decode never reads outside mem.
func Decode(mem Memory, recPtr uint32) (SizedRef, error) {
	if recPtr == 0 {
		return SizedRef{}, &errs.ProtocolError{Op: "decode", Ptr: recPtr, Len: RefSize, Reason: "null reference"}
	}
	if !InBounds(mem, recPtr, RefSize) {
		return SizedRef{}, &errs.ProtocolError{Op: "decode", Ptr: recPtr, Len: RefSize, Reason: "record outside linear memory"}
	}

	raw, ok := mem.Read(recPtr, RefSize)
	if !ok {
		return SizedRef{}, &errs.ProtocolError{Op: "decode", Ptr: recPtr, Len: RefSize, Reason: "record outside linear memory"}
	}
	ref := ParseRef(raw)

	if ref.Ptr == 0 && ref.Len > 0 {
		return SizedRef{}, &errs.ProtocolError{Op: "decode", Ptr: ref.Ptr, Len: ref.Len, Reason: "null pointer with non-zero length"}
	}
	if !InBounds(mem, ref.Ptr, ref.Len) {
		return SizedRef{}, &errs.ProtocolError{Op: "decode", Ptr: ref.Ptr, Len: ref.Len, Reason: "payload outside linear memory"}
	}
	return ref, nil
}

// ReadPayload copies the bytes described by ref out of mem.
func ReadPayload(mem Memory, ref SizedRef) ([]byte, error) {
	if ref.Len == 0 {
		return []byte{}, nil
	}
	view, ok := mem.Read(ref.Ptr, ref.Len)
	if !ok {
		return nil, &errs.ProtocolError{Op: "read", Ptr: ref.Ptr, Len: ref.Len, Reason: "payload outside linear memory"}
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}
