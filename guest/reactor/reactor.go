//go:build wasip1

// Package reactor exports a guest.Module from a wasip1 reactor build. The
// module's allocator manages an arena pinned on the Go heap, so the pointers
// it hands the host are real linear-memory addresses.
//
// Import it from a main package and call Init from an init function:
//
//	func init() { reactor.Init() }
//	func main() {}
//
// Build with -buildmode=c-shared so the host can call _initialize and then
// the exports.
package reactor

import (
	"unsafe"

	"github.com/reglet-dev/memexchange/guest"
	"github.com/reglet-dev/memexchange/log"
)

// ArenaSize is the number of bytes the guest can have live at once.
const ArenaSize = 4 << 20

var (
	arena  []byte
	module *guest.Module
)

// Init builds the exported module. Options are applied after the arena
// allocator options. Init panics if it is called twice.
func Init(opts ...guest.Option) {
	if module != nil {
		panic("reactor: Init called twice")
	}

	arena = make([]byte, ArenaSize)
	base := uint32(uintptr(unsafe.Pointer(&arena[0])))
	mem := guest.NewArena(arena, base)

	all := append([]guest.Option{
		guest.WithAllocator(guest.WithBase(base), guest.WithMaxTotalAllocations(ArenaSize)),
	}, opts...)
	m, err := guest.New(mem, guest.ImportsFunc(hostAppend), all...)
	if err != nil {
		panic(err)
	}
	module = m

	log.UseEncoder(func(data []byte) (uint32, error) {
		o, err := m.Allocator().AllocateOwned(data)
		if err != nil {
			return 0, err
		}
		return m.Allocator().Send(mem, o)
	})
}

//go:wasmimport exchange_host host_append
//nolint:revive // intentional snake_case to match WASM import convention
func host_append(encodedRef uint32) uint32

func hostAppend(encodedRef uint32) uint32 {
	return host_append(encodedRef)
}

//go:wasmexport allocate
func allocate(n uint32) uint32 {
	return module.Allocate(n)
}

//go:wasmexport free
func free(ptr, n uint32) {
	module.Free(ptr, n)
}

//go:wasmexport sum_bytes
//nolint:revive // intentional snake_case to match WASM export convention
func sum_bytes(ptr, n uint32) uint32 {
	return module.SumBytes(ptr, n)
}

//go:wasmexport begin_conversation
//nolint:revive // intentional snake_case to match WASM export convention
func begin_conversation(encodedRef uint32) uint32 {
	return module.BeginConversation(encodedRef)
}

//go:wasmexport last_status
//nolint:revive // intentional snake_case to match WASM export convention
func last_status() uint32 {
	return module.LastStatus()
}

//go:wasmexport live_blocks
//nolint:revive // intentional snake_case to match WASM export convention
func live_blocks() uint32 {
	return module.LiveBlocks()
}
