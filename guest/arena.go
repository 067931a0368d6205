package guest

import "encoding/binary"

// Arena is an abi.Memory over a byte slice whose first byte sits at linear
// address base. The wasip1 guest pins one on the Go heap and hands the host
// real addresses into it; offsets below base belong to the Go runtime and are
// never readable through the arena.
//
// An Arena does not grow.
type Arena struct {
	buf  []byte
	base uint32
}

// NewArena wraps buf, which starts at address base.
func NewArena(buf []byte, base uint32) *Arena {
	return &Arena{buf: buf, base: base}
}

// Base returns the address of the arena's first byte.
func (a *Arena) Base() uint32 {
	return a.base
}

// Size returns the first address past the arena.
func (a *Arena) Size() uint32 {
	return a.base + uint32(len(a.buf)) //nolint:gosec // G115: arenas are far below 4GiB
}

func (a *Arena) slice(offset, n uint32) ([]byte, bool) {
	if offset < a.base {
		return nil, false
	}
	off := uint64(offset - a.base)
	if off+uint64(n) > uint64(len(a.buf)) {
		return nil, false
	}
	return a.buf[off : off+uint64(n)], true
}

func (a *Arena) Read(offset, byteCount uint32) ([]byte, bool) {
	return a.slice(offset, byteCount)
}

func (a *Arena) Write(offset uint32, v []byte) bool {
	dst, ok := a.slice(offset, uint32(len(v))) //nolint:gosec // G115: bounded by the arena check
	if !ok {
		return false
	}
	copy(dst, v)
	return true
}

func (a *Arena) ReadUint32Le(offset uint32) (uint32, bool) {
	b, ok := a.slice(offset, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (a *Arena) WriteUint32Le(offset, v uint32) bool {
	b, ok := a.slice(offset, 4)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint32(b, v)
	return true
}
