// Package linear provides an in-process linear memory with WebAssembly page
// semantics. It backs the native sandbox, where the guest runs as Go code but
// still only sees 32-bit offsets into its own private region.
package linear

import (
	"encoding/binary"
	"sync"
)

// PageSize is the WebAssembly page size.
const PageSize = 65536

// MaxPages is the largest page count whose byte size still fits a uint32.
const MaxPages = 65535

// Memory is a growable, byte-addressable region. It implements abi.Memory and
// abi.Grower. Views returned by Read alias the backing array and are
// invalidated by Grow.
type Memory struct {
	mu       sync.RWMutex
	buf      []byte
	maxPages uint32
}

// New creates a memory of initialPages pages that may grow to maxPages.
// A maxPages of 0 means MaxPages.
func New(initialPages, maxPages uint32) *Memory {
	if maxPages == 0 || maxPages > MaxPages {
		maxPages = MaxPages
	}
	if initialPages > maxPages {
		initialPages = maxPages
	}
	return &Memory{
		buf:      make([]byte, int(initialPages)*PageSize),
		maxPages: maxPages,
	}
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.buf)) //nolint:gosec // G115: bounded by MaxPages*PageSize-1 in practice
}

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 {
	return m.Size() / PageSize
}

func (m *Memory) inRange(offset, n uint32) bool {
	return uint64(offset)+uint64(n) <= uint64(len(m.buf))
}

// Read returns a view of byteCount bytes at offset.
func (m *Memory) Read(offset, byteCount uint32) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inRange(offset, byteCount) {
		return nil, false
	}
	return m.buf[offset : offset+byteCount : offset+byteCount], true
}

// Write copies v into the memory at offset.
func (m *Memory) Write(offset uint32, v []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(offset, uint32(len(v))) { //nolint:gosec // G115: len(v) > 4GiB cannot be in range anyway
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

// ReadUint32Le reads a little-endian uint32 at offset.
func (m *Memory) ReadUint32Le(offset uint32) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inRange(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), true
}

// WriteUint32Le writes v little-endian at offset.
func (m *Memory) WriteUint32Le(offset, v uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inRange(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], v)
	return true
}

// Grow extends the memory by deltaPages zeroed pages and returns the previous
// page count. It fails without side effects past maxPages.
func (m *Memory) Grow(deltaPages uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := uint32(len(m.buf) / PageSize) //nolint:gosec // G115: page count fits
	if uint64(prev)+uint64(deltaPages) > uint64(m.maxPages) {
		return prev, false
	}
	if deltaPages == 0 {
		return prev, true
	}
	grown := make([]byte, (int(prev)+int(deltaPages))*PageSize)
	copy(grown, m.buf)
	m.buf = grown
	return prev, true
}
