package guest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/internal/abi"
)

func TestArena_Bounds(t *testing.T) {
	a := NewArena(make([]byte, 64), 4096)
	assert.Equal(t, uint32(4096), a.Base())
	assert.Equal(t, uint32(4160), a.Size())

	assert.True(t, a.Write(4096, []byte("abc")))
	got, ok := a.Read(4096, 3)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), got)

	_, ok = a.Read(4095, 1)
	assert.False(t, ok, "below base")
	_, ok = a.Read(4150, 11)
	assert.False(t, ok, "past end")
	assert.False(t, a.Write(0, []byte{1}))

	require.True(t, a.WriteUint32Le(4156, 0xdeadbeef))
	v, ok := a.ReadUint32Le(4156)
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), v)
	_, ok = a.ReadUint32Le(4157)
	assert.False(t, ok)
}

func TestArena_Module(t *testing.T) {
	const base, size = 1 << 16, 4096
	arena := NewArena(make([]byte, size), base)

	host := func(rec uint32) uint32 { return rec }
	m, err := New(arena, ImportsFunc(host), WithAllocator(WithBase(base), WithMaxTotalAllocations(size)))
	require.NoError(t, err)

	ptr := m.Allocate(10)
	require.NotZero(t, ptr)
	assert.GreaterOrEqual(t, ptr, uint32(base))
	require.True(t, arena.Write(ptr, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))
	assert.Equal(t, uint32(55), m.SumBytes(ptr, 10))
	m.Free(ptr, 10)
	assert.Equal(t, uint32(errs.StatusOK), m.LastStatus())

	// The arena never grows.
	assert.Zero(t, m.Allocate(size+1))
	assert.Equal(t, uint32(errs.StatusAllocationFailure), m.LastStatus())

	_, err = abi.Decode(arena, 8)
	assert.ErrorIs(t, err, errs.ErrProtocolViolation)
}
