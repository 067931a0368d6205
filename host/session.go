package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reglet-dev/memexchange/domain/entities"
	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/domain/ports"
	"github.com/reglet-dev/memexchange/hostfuncs"
	"github.com/reglet-dev/memexchange/internal/abi"
	"github.com/reglet-dev/memexchange/internal/guestcall"
	"github.com/reglet-dev/memexchange/internal/wasmcontext"
)

// DefaultCallTimeout bounds a single boundary call.
const DefaultCallTimeout = 5 * time.Second

// ErrSessionBroken is returned once a boundary call was cut short. The guest
// may still be running that call, so the session touches nothing further.
var ErrSessionBroken = errors.New("session broken")

// Session drives conversations against one guest instance. It admits one
// boundary call sequence at a time. Replies are handed out as *Reply values
// bound to the session, so a reply from any other instance is refused.
type Session struct {
	inst         ports.Instance
	logger       *slog.Logger
	sem          chan struct{}
	broken       error
	seq          atomic.Uint64
	callTimeout  time.Duration
	mu           sync.Mutex
	maxReplySize uint32
}

// NewSession wraps inst.
func NewSession(inst ports.Instance, opts ...SessionOption) *Session {
	s := &Session{
		inst:         inst,
		logger:       slog.Default(),
		sem:          make(chan struct{}, 1),
		callTimeout:  DefaultCallTimeout,
		maxReplySize: hostfuncs.DefaultMaxRequestSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("instance", inst.Name())
	return s
}

// Instance returns the guest instance the session drives.
func (s *Session) Instance() ports.Instance {
	return s.inst
}

// Close closes the guest instance.
func (s *Session) Close(ctx context.Context) error {
	return s.inst.Close(ctx)
}

// Err returns the error that broke the session, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", s.inst.Name(), ctx.Err())
	}
}

func (s *Session) release() {
	<-s.sem
}

func (s *Session) breakWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken == nil {
		s.broken = err
	}
}

// boundary runs fn, one call into the instance, under the per-call timeout.
// The caller holds the semaphore.
func (s *Session) boundary(ctx context.Context, name string, fn func(context.Context) (uint32, error)) (uint32, error) {
	if err := s.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSessionBroken, err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	out, err := fn(cctx)
	if cerr := cctx.Err(); cerr != nil && err != nil {
		s.breakWith(err)
		s.logger.ErrorContext(ctx, "guest call cut short, session broken", "export", name, "error", err)
	}
	return out, err
}

// call makes one status-checked boundary call and records it.
func (s *Session) call(ctx context.Context, name string, params ...uint32) (uint32, error) {
	out, err := s.boundary(ctx, name, func(cctx context.Context) (uint32, error) {
		return guestcall.Call(cctx, s.inst, name, params...)
	})
	step := entities.Step{Direction: entities.HostToGuest, Call: name, Params: params, Result: out}
	if err != nil {
		step.Note = err.Error()
	}
	hostfuncs.RecorderFrom(ctx).Step(step)
	return out, err
}

func (s *Session) liveBlocks(ctx context.Context) (uint32, error) {
	return s.boundary(ctx, abi.ExportLiveBlocks, func(cctx context.Context) (uint32, error) {
		return guestcall.LiveBlocks(cctx, s.inst)
	})
}

func (s *Session) free(ctx context.Context, ptr, n uint32) error {
	_, err := s.call(ctx, abi.ExportFree, ptr, n)
	return err
}

// Allocate reserves n bytes in the guest. The caller owns the returned block.
func (s *Session) Allocate(ctx context.Context, n uint32) (*Block, error) {
	if n == 0 {
		return &Block{s: s}, nil
	}
	ptr, err := s.call(ctx, abi.ExportAllocate, n)
	if err != nil {
		return nil, err
	}
	return &Block{s: s, ref: abi.SizedRef{Ptr: ptr, Len: n}}, nil
}

// Write copies data into a fresh guest block.
func (s *Session) Write(ctx context.Context, data []byte) (*Block, error) {
	b, err := s.Allocate(ctx, uint32(len(data))) //nolint:gosec // G115: bounded by guest memory
	if err != nil {
		return nil, err
	}
	if len(data) > 0 && !s.inst.Memory().Write(b.ref.Ptr, data) {
		_ = b.Release(ctx)
		return nil, &errs.ProtocolError{Op: "write", Ptr: b.ref.Ptr, Len: b.ref.Len, Reason: "block outside linear memory"}
	}
	return b, nil
}

// Encode allocates a record for payload in the guest and transfers payload
// into it. The returned block is the record; whoever receives its pointer
// owns both.
func (s *Session) Encode(ctx context.Context, payload *Block) (*Block, error) {
	ref, err := payload.Transfer()
	if err != nil {
		return nil, err
	}
	alloc := func(n uint32) (uint32, error) {
		return s.call(ctx, abi.ExportAllocate, n)
	}
	rec, err := abi.Encode(s.inst.Memory(), alloc, ref)
	if err != nil {
		if ref.Len > 0 {
			_ = s.free(ctx, ref.Ptr, ref.Len)
		}
		return nil, err
	}
	return &Block{s: s, ref: abi.SizedRef{Ptr: rec, Len: abi.RefSize}}, nil
}

// ReadRef copies the bytes ref describes out of guest memory.
func (s *Session) ReadRef(ref abi.SizedRef) ([]byte, error) {
	if s.maxReplySize > 0 && ref.Len > s.maxReplySize {
		return nil, &errs.ProtocolError{Op: "read", Ptr: ref.Ptr, Len: ref.Len, Reason: fmt.Sprintf("payload exceeds %d bytes", s.maxReplySize)}
	}
	return abi.ReadPayload(s.inst.Memory(), ref)
}

// LiveBlocks returns the guest's live allocation count. It waits for any
// conversation in flight.
func (s *Session) LiveBlocks(ctx context.Context) (uint32, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()
	return s.liveBlocks(ctx)
}

// SumBytes writes data into the guest and returns its wide byte sum. The
// host keeps ownership of the block and frees it afterwards.
func (s *Session) SumBytes(ctx context.Context, data []byte) (uint32, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()

	b, err := s.Write(ctx, data)
	if err != nil {
		return 0, err
	}
	ref := b.Ref()
	sum, err := s.call(ctx, abi.ExportSumBytes, ref.Ptr, ref.Len)
	if relErr := b.Release(ctx); err == nil {
		err = relErr
	}
	return sum, err
}

// Begin writes message into the guest and calls begin_conversation. The
// returned reply is owned by this session; pass it to Finish.
func (s *Session) Begin(ctx context.Context, message []byte) (*Reply, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.begin(ctx, message)
}

func (s *Session) begin(ctx context.Context, message []byte) (*Reply, error) {
	payload, err := s.Write(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}
	rec, err := s.Encode(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	handle, err := rec.Transfer()
	if err != nil {
		return nil, err
	}

	out, err := s.call(ctx, abi.ExportBeginConversation, handle.Ptr)
	if err != nil {
		return nil, err
	}
	return &Reply{s: s, rec: out}, nil
}

// Finish reads a reply returned by this session's Begin and releases its
// record and payload. A reply from another session is a protocol violation
// and touches no guest memory.
func (s *Session) Finish(ctx context.Context, r *Reply) ([]byte, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	return s.finish(ctx, r)
}

func (s *Session) finish(ctx context.Context, r *Reply) ([]byte, error) {
	rec, err := r.claim(s)
	if err != nil {
		return nil, err
	}
	ref, err := abi.Decode(s.inst.Memory(), rec)
	if err != nil {
		return nil, err
	}

	payload := &Block{s: s, ref: ref}
	record := &Block{s: s, ref: abi.SizedRef{Ptr: rec, Len: abi.RefSize}}

	data, readErr := s.ReadRef(ref)
	err = errors.Join(readErr, payload.Release(ctx), record.Release(ctx))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Converse runs one full conversation and returns its transcript. Failures
// the host callbacks saw during the call are joined into the returned error.
func (s *Session) Converse(ctx context.Context, message []byte) (*entities.Transcript, error) {
	tr := &entities.Transcript{
		Started:  time.Now(),
		Instance: s.inst.Name(),
		Status:   entities.ResultStatusSuccess,
		Request:  string(message),
	}

	rec := hostfuncs.NewRecorder()
	ctx = hostfuncs.WithRecorder(ctx, rec)
	if _, ok := wasmcontext.RequestID(ctx); !ok {
		ctx = wasmcontext.WithRequestID(ctx, fmt.Sprintf("%s-%d", s.inst.Name(), s.seq.Add(1)))
	}

	reply, live, err := s.converse(ctx, message)
	tr.Steps = rec.Steps()
	tr.Duration = time.Since(tr.Started)

	if err != nil {
		err = errors.Join(err, rec.Err())
		tr.Fail(errs.ToErrorDetail(err))
		s.logger.WarnContext(ctx, "conversation failed", "error", err)
		return tr, err
	}
	tr.Reply = string(reply)
	tr.LiveBlocks = live
	s.logger.DebugContext(ctx, "conversation complete", "reply", tr.Reply, "steps", len(tr.Steps))
	return tr, nil
}

func (s *Session) converse(ctx context.Context, message []byte) ([]byte, uint32, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer s.release()

	r, err := s.begin(ctx, message)
	if err != nil {
		return nil, 0, err
	}
	reply, err := s.finish(ctx, r)
	if err != nil {
		return nil, 0, err
	}

	live, err := s.liveBlocks(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read live blocks", "error", err)
	}
	return reply, live, nil
}
