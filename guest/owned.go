package guest

import (
	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/internal/abi"
)

// Owned is the guest's handle on a block it is responsible for. Exactly one
// of Release or Transfer must be called; afterwards the handle refuses use.
type Owned struct {
	alloc *Allocator
	ref   abi.SizedRef
	done  bool
}

// Own claims ownership of the live block described by ref. The empty
// reference is accepted and owns nothing.
func (a *Allocator) Own(ref abi.SizedRef) (*Owned, error) {
	if !ref.IsZero() && !a.IsLive(ref.Ptr, ref.Len) {
		return nil, &errs.FreeError{Kind: errs.ErrUseAfterFree, Ptr: ref.Ptr, Len: ref.Len}
	}
	return &Owned{alloc: a, ref: ref}, nil
}

// AllocateOwned reserves a block for data, copies data into it and returns
// the handle.
func (a *Allocator) AllocateOwned(data []byte) (*Owned, error) {
	n := uint32(len(data)) //nolint:gosec // G115: limited by the allocation cap
	ptr, err := a.Allocate(n)
	if err != nil {
		return nil, err
	}
	o := &Owned{alloc: a, ref: abi.SizedRef{Ptr: ptr, Len: n}}
	if n > 0 && !a.mem.Write(ptr, data) {
		_ = o.Release()
		return nil, &errs.ProtocolError{Op: "write", Ptr: ptr, Len: n, Reason: "block outside linear memory"}
	}
	return o, nil
}

// Ref returns the block's reference.
func (o *Owned) Ref() abi.SizedRef {
	return o.ref
}

// Bytes returns a copy of the block's contents.
func (o *Owned) Bytes() ([]byte, error) {
	if o.done {
		return nil, &errs.FreeError{Kind: errs.ErrUseAfterFree, Ptr: o.ref.Ptr, Len: o.ref.Len}
	}
	if o.ref.IsZero() {
		return []byte{}, nil
	}
	view, err := o.alloc.Bytes(o.ref.Ptr, o.ref.Len)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// Release frees the block.
func (o *Owned) Release() error {
	if o.done {
		return &errs.FreeError{Kind: errs.ErrDoubleFree, Ptr: o.ref.Ptr, Len: o.ref.Len}
	}
	o.done = true
	return o.alloc.Free(o.ref.Ptr, o.ref.Len)
}

// Transfer gives up ownership without freeing and returns the reference for
// the new owner.
func (o *Owned) Transfer() (abi.SizedRef, error) {
	if o.done {
		return abi.SizedRef{}, &errs.FreeError{Kind: errs.ErrUseAfterFree, Ptr: o.ref.Ptr, Len: o.ref.Len}
	}
	o.done = true
	return o.ref, nil
}

// Done reports whether the handle was released or transferred.
func (o *Owned) Done() bool {
	return o.done
}
