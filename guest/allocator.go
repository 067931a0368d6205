package guest

import (
	"sync"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/internal/abi"
)

const (
	// DefaultBase is the first offset the allocator hands out. Everything
	// below it is left to static data.
	DefaultBase = 1024

	// DefaultMaxTotalAllocations caps the bytes live at any one time.
	DefaultMaxTotalAllocations = 16 * 1024 * 1024

	alignment = 8
)

// Allocator is a guarded bump allocator over a region of linear memory.
//
// Every block it hands out is tracked until freed, so misuse is detected
// instead of corrupting memory: freeing a block twice, freeing with the wrong
// length, or reading a block that is no longer live all fail with typed errors.
// Space is reclaimed only when the last live block is freed, at which point
// the bump pointer rewinds to the base.
type Allocator struct {
	mu        sync.Mutex
	mem       abi.Memory
	live      map[uint32]uint32 // ptr -> requested length
	liveBytes uint64
	maxTotal  uint64
	base      uint32
	next      uint32
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithBase sets the first offset handed out. It is rounded up to the
// allocation alignment and never below it, so pointer 0 stays reserved.
func WithBase(base uint32) AllocatorOption {
	return func(a *Allocator) {
		a.base = base
	}
}

// WithMaxTotalAllocations caps the number of bytes that may be live at once.
func WithMaxTotalAllocations(n uint32) AllocatorOption {
	return func(a *Allocator) {
		a.maxTotal = uint64(n)
	}
}

// NewAllocator creates an allocator managing mem from its base upward.
func NewAllocator(mem abi.Memory, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		mem:      mem,
		live:     make(map[uint32]uint32),
		base:     DefaultBase,
		maxTotal: DefaultMaxTotalAllocations,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.base = alignUp(a.base)
	if a.base < alignment {
		a.base = alignment
	}
	a.next = a.base
	return a
}

// Allocate reserves n bytes and returns the block's pointer. Allocate(0)
// returns 0 and nothing needs freeing.
func (a *Allocator) Allocate(n uint32) (uint32, error) {
	if n == 0 {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.liveBytes+uint64(n) > a.maxTotal {
		return 0, &errs.AllocationError{
			Requested: n,
			Available: clampU32(a.maxTotal - a.liveBytes),
			Reason:    "allocation limit exceeded",
		}
	}

	ptr := a.next
	end := uint64(ptr) + uint64(alignUp64(uint64(n)))
	if end > uint64(a.mem.Size()) {
		if err := a.grow(end); err != nil {
			return 0, &errs.AllocationError{
				Requested: n,
				Available: clampU32(uint64(a.mem.Size()) - uint64(ptr)),
				Reason:    err.Error(),
			}
		}
	}

	a.next = uint32(end) //nolint:gosec // G115: end <= mem.Size() after grow
	a.live[ptr] = n
	a.liveBytes += uint64(n)
	return ptr, nil
}

type growError string

func (e growError) Error() string { return string(e) }

func (a *Allocator) grow(end uint64) error {
	g, ok := a.mem.(abi.Grower)
	if !ok {
		return growError("linear memory cannot grow")
	}
	short := end - uint64(a.mem.Size())
	pages := (short + abi.PageSize - 1) / abi.PageSize
	if pages > 0xFFFF {
		return growError("linear memory exhausted")
	}
	if _, ok := g.Grow(uint32(pages)); !ok || uint64(a.mem.Size()) < end {
		return growError("linear memory exhausted")
	}
	return nil
}

// Free releases the live block at ptr. n must equal the length it was
// allocated with. Free(0, 0) is a no-op.
func (a *Allocator) Free(ptr, n uint32) error {
	if ptr == 0 && n == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	want, ok := a.live[ptr]
	if !ok {
		return &errs.FreeError{Kind: errs.ErrDoubleFree, Ptr: ptr, Len: n}
	}
	if want != n {
		return &errs.FreeError{Kind: errs.ErrSizeMismatch, Ptr: ptr, Len: n, Want: want}
	}

	delete(a.live, ptr)
	a.liveBytes -= uint64(n)
	if len(a.live) == 0 {
		a.next = a.base
	}
	return nil
}

// IsLive reports whether [ptr, ptr+n) is exactly a live block.
func (a *Allocator) IsLive(ptr, n uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	want, ok := a.live[ptr]
	return ok && want == n
}

// Bytes returns a view of the first n bytes of the live block at ptr.
func (a *Allocator) Bytes(ptr, n uint32) ([]byte, error) {
	a.mu.Lock()
	length, ok := a.live[ptr]
	a.mu.Unlock()

	if !ok || n > length {
		return nil, &errs.FreeError{Kind: errs.ErrUseAfterFree, Ptr: ptr, Len: n}
	}
	view, ok := a.mem.Read(ptr, n)
	if !ok {
		return nil, &errs.ProtocolError{Op: "read", Ptr: ptr, Len: n, Reason: "block outside linear memory"}
	}
	return view, nil
}

// Stats returns the number of live blocks and the bytes they hold.
func (a *Allocator) Stats() (blocks int, bytes uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live), a.liveBytes
}

func alignUp(n uint32) uint32 {
	return uint32(alignUp64(uint64(n))) //nolint:gosec // G115: callers keep n well below 4GiB-8
}

func alignUp64(n uint64) uint64 {
	return (n + alignment - 1) &^ (alignment - 1)
}

func clampU32(n uint64) uint32 {
	if n > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(n)
}
