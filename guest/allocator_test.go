package guest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/internal/abi"
	"github.com/reglet-dev/memexchange/internal/linear"
)

func TestAllocator_AllocateFree(t *testing.T) {
	a := NewAllocator(linear.New(1, 1))

	p1, err := a.Allocate(15)
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultBase), p1)

	p2, err := a.Allocate(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultBase+16), p2, "blocks are 8-byte aligned")
	assert.Zero(t, p2%alignment)

	blocks, bytes := a.Stats()
	assert.Equal(t, 2, blocks)
	assert.Equal(t, uint64(23), bytes)

	require.NoError(t, a.Free(p1, 15))
	assert.False(t, a.IsLive(p1, 15))
	assert.True(t, a.IsLive(p2, 8))

	require.NoError(t, a.Free(p2, 8))
	blocks, bytes = a.Stats()
	assert.Zero(t, blocks)
	assert.Zero(t, bytes)
}

func TestAllocator_ZeroLength(t *testing.T) {
	a := NewAllocator(linear.New(1, 1))

	ptr, err := a.Allocate(0)
	require.NoError(t, err)
	assert.Zero(t, ptr)
	require.NoError(t, a.Free(0, 0))

	blocks, _ := a.Stats()
	assert.Zero(t, blocks)
}

func TestAllocator_FreeMisuse(t *testing.T) {
	tests := []struct {
		name string
		free func(a *Allocator, ptr uint32) error
		want error
	}{
		{
			name: "double free",
			free: func(a *Allocator, ptr uint32) error {
				require.NoError(t, a.Free(ptr, 15))
				return a.Free(ptr, 15)
			},
			want: errs.ErrDoubleFree,
		},
		{
			name: "size mismatch",
			free: func(a *Allocator, ptr uint32) error { return a.Free(ptr, 14) },
			want: errs.ErrSizeMismatch,
		},
		{
			name: "never allocated",
			free: func(a *Allocator, ptr uint32) error { return a.Free(ptr+8, 4) },
			want: errs.ErrDoubleFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAllocator(linear.New(1, 1))
			_, err := a.Allocate(4) // keep a block live so the epoch does not rewind
			require.NoError(t, err)
			ptr, err := a.Allocate(15)
			require.NoError(t, err)

			err = tt.free(a, ptr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))

			var fe *errs.FreeError
			require.True(t, errors.As(err, &fe))
		})
	}
}

func TestAllocator_SizeMismatchLeavesBlockLive(t *testing.T) {
	a := NewAllocator(linear.New(1, 1))
	ptr, err := a.Allocate(15)
	require.NoError(t, err)

	require.Error(t, a.Free(ptr, 16))
	assert.True(t, a.IsLive(ptr, 15))
	require.NoError(t, a.Free(ptr, 15))
}

func TestAllocator_UseAfterFree(t *testing.T) {
	a := NewAllocator(linear.New(1, 1))
	keep, err := a.Allocate(8)
	require.NoError(t, err)
	ptr, err := a.Allocate(4)
	require.NoError(t, err)

	_, err = a.Bytes(ptr, 4)
	require.NoError(t, err)

	require.NoError(t, a.Free(ptr, 4))
	_, err = a.Bytes(ptr, 4)
	assert.True(t, errors.Is(err, errs.ErrUseAfterFree))

	_, err = a.Bytes(keep, 9)
	assert.True(t, errors.Is(err, errs.ErrUseAfterFree), "range longer than the block")
}

func TestAllocator_EpochReclaim(t *testing.T) {
	a := NewAllocator(linear.New(1, 1))

	p1, err := a.Allocate(100)
	require.NoError(t, err)
	p2, err := a.Allocate(100)
	require.NoError(t, err)

	require.NoError(t, a.Free(p1, 100))
	p3, err := a.Allocate(8)
	require.NoError(t, err)
	assert.Greater(t, p3, p2, "no reuse while blocks are live")

	require.NoError(t, a.Free(p2, 100))
	require.NoError(t, a.Free(p3, 8))

	p4, err := a.Allocate(8)
	require.NoError(t, err)
	assert.Equal(t, p1, p4, "bump pointer rewinds once nothing is live")
}

func TestAllocator_Grows(t *testing.T) {
	mem := linear.New(1, 4)
	a := NewAllocator(mem)

	ptr, err := a.Allocate(2 * linear.PageSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), mem.Pages())
	assert.True(t, abi.InBounds(mem, ptr, 2*linear.PageSize))
}

func TestAllocator_Failure(t *testing.T) {
	t.Run("memory exhausted", func(t *testing.T) {
		a := NewAllocator(linear.New(1, 1))
		_, err := a.Allocate(linear.PageSize)
		require.Error(t, err)

		var ae *errs.AllocationError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, uint32(linear.PageSize), ae.Requested)
		assert.Equal(t, uint32(linear.PageSize-DefaultBase), ae.Available)
		assert.Equal(t, errs.StatusAllocationFailure, errs.StatusOf(err))
	})

	t.Run("cap exceeded", func(t *testing.T) {
		a := NewAllocator(linear.New(1, 4), WithMaxTotalAllocations(64))
		_, err := a.Allocate(60)
		require.NoError(t, err)

		_, err = a.Allocate(8)
		require.Error(t, err)
		var ae *errs.AllocationError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, uint32(4), ae.Available)
		assert.Contains(t, ae.Error(), "allocation limit exceeded")
	})

	t.Run("memory without growth", func(t *testing.T) {
		a := NewAllocator(fixedMemory{linear.New(1, 1)})
		_, err := a.Allocate(linear.PageSize)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot grow")
	})
}

func TestAllocator_Base(t *testing.T) {
	a := NewAllocator(linear.New(1, 1), WithBase(0))
	ptr, err := a.Allocate(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(alignment), ptr, "pointer 0 stays reserved")

	a = NewAllocator(linear.New(1, 1), WithBase(33))
	ptr, err = a.Allocate(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(40), ptr)
}

func TestOwned(t *testing.T) {
	a := NewAllocator(linear.New(1, 1))

	o, err := a.AllocateOwned([]byte("payload"))
	require.NoError(t, err)

	data, err := o.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	ref, err := o.Transfer()
	require.NoError(t, err)
	assert.True(t, o.Done())
	assert.True(t, a.IsLive(ref.Ptr, ref.Len), "transfer does not free")

	_, err = o.Bytes()
	assert.True(t, errors.Is(err, errs.ErrUseAfterFree))
	assert.True(t, errors.Is(o.Release(), errs.ErrDoubleFree))

	owner, err := a.Own(ref)
	require.NoError(t, err)
	require.NoError(t, owner.Release())
	assert.False(t, a.IsLive(ref.Ptr, ref.Len))

	_, err = a.Own(ref)
	assert.True(t, errors.Is(err, errs.ErrUseAfterFree))

	empty, err := a.Own(abi.SizedRef{})
	require.NoError(t, err)
	require.NoError(t, empty.Release())
}

func TestSumBytes(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{name: "one to ten", data: []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, want: 55},
		{name: "ten times 250 widens", data: []byte{250, 250, 250, 250, 250, 250, 250, 250, 250, 250}, want: 2500},
		{name: "empty", data: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := linear.New(1, 1)
			require.True(t, mem.Write(64, tt.data))

			got, err := SumBytes(mem, 64, uint32(len(tt.data)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := SumBytes(linear.New(1, 1), linear.PageSize-5, 10)
	assert.True(t, errors.Is(err, errs.ErrProtocolViolation))
}

// fixedMemory hides Grow.
type fixedMemory struct {
	abi.Memory
}
