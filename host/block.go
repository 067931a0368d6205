package host

import (
	"context"
	"fmt"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/internal/abi"
)

// Block is a guest allocation the host currently owns. It must be released
// or transferred exactly once.
type Block struct {
	s    *Session
	ref  abi.SizedRef
	done bool
}

// Ref returns the block's pointer and length.
func (b *Block) Ref() abi.SizedRef {
	return b.ref
}

// Done reports whether the block was released or transferred.
func (b *Block) Done() bool {
	return b.done
}

// Release frees the block in the guest.
func (b *Block) Release(ctx context.Context) error {
	if b.done {
		return &errs.FreeError{Kind: errs.ErrDoubleFree, Ptr: b.ref.Ptr, Len: b.ref.Len}
	}
	b.done = true
	if b.ref.Len == 0 {
		return nil
	}
	return b.s.free(ctx, b.ref.Ptr, b.ref.Len)
}

// Transfer hands ownership to whoever receives the reference, typically the
// guest through an encoded record.
func (b *Block) Transfer() (abi.SizedRef, error) {
	if b.done {
		return abi.SizedRef{}, &errs.FreeError{Kind: errs.ErrUseAfterFree, Ptr: b.ref.Ptr, Len: b.ref.Len}
	}
	b.done = true
	return b.ref, nil
}

// Reply is the record begin_conversation returned. It belongs to the session
// that began the conversation and can be finished once, by that session only.
type Reply struct {
	s    *Session
	rec  uint32
	done bool
}

// Instance names the guest instance that issued the reply.
func (r *Reply) Instance() string {
	return r.s.inst.Name()
}

func (r *Reply) claim(s *Session) (uint32, error) {
	if r == nil {
		return 0, &errs.ProtocolError{Op: "finish", Len: abi.RefSize, Reason: "no reply"}
	}
	if r.s != s {
		return 0, &errs.ProtocolError{
			Op:     "finish",
			Ptr:    r.rec,
			Len:    abi.RefSize,
			Reason: fmt.Sprintf("reference not issued by instance %s", s.inst.Name()),
		}
	}
	if r.done {
		return 0, &errs.ProtocolError{
			Op:     "finish",
			Ptr:    r.rec,
			Len:    abi.RefSize,
			Reason: "reply already finished",
			Err:    &errs.FreeError{Kind: errs.ErrUseAfterFree, Ptr: r.rec, Len: abi.RefSize},
		}
	}
	r.done = true
	return r.rec, nil
}
