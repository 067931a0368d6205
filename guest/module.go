package guest

import (
	"bytes"
	"log/slog"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/internal/abi"
)

// DefaultGreeting is the fragment the guest sends to host_append.
const DefaultGreeting = "Hi Guest"

// Imports are the host functions a guest calls back into.
type Imports interface {
	// HostAppend hands the host an encoded reference the host now owns and
	// returns a new encoded reference the guest owns, or 0 on failure.
	HostAppend(encodedRef uint32) uint32
}

// ImportsFunc adapts a function to Imports.
type ImportsFunc func(encodedRef uint32) uint32

// HostAppend implements Imports.
func (f ImportsFunc) HostAppend(encodedRef uint32) uint32 {
	return f(encodedRef)
}

// Module is one guest instance: an allocator over its linear memory, the
// host imports it was linked against, and the status of its last export call.
//
// A Module is single-threaded like the guest it models. Callers serialize
// export calls; a host import may call back into Allocate and Free while
// BeginConversation is running.
type Module struct {
	mem       abi.Memory
	alloc     *Allocator
	imports   Imports
	composer  func(input []byte) []byte
	finisher  func(reply []byte) []byte
	logger    *slog.Logger
	lastErr   error
	allocOpts []AllocatorOption
	status    errs.Status
}

// Option configures a Module.
type Option func(*Module)

// WithComposer sets how the guest derives the fragment it sends to the host
// from the decoded input. The default ignores the input and sends
// DefaultGreeting.
func WithComposer(fn func(input []byte) []byte) Option {
	return func(m *Module) {
		m.composer = fn
	}
}

// WithFinisher sets how the host's reply becomes the final reply. The default
// returns it unchanged.
func WithFinisher(fn func(reply []byte) []byte) Option {
	return func(m *Module) {
		m.finisher = fn
	}
}

// WithLogger sets the logger for state transitions and failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) {
		m.logger = logger
	}
}

// WithAllocator passes options to the module's allocator.
func WithAllocator(opts ...AllocatorOption) Option {
	return func(m *Module) {
		m.allocOpts = append(m.allocOpts, opts...)
	}
}

// New links a guest module against mem and imports. It fails with a
// CallbackUnavailableError when no host imports are provided.
func New(mem abi.Memory, imports Imports, opts ...Option) (*Module, error) {
	if imports == nil {
		return nil, &errs.CallbackUnavailableError{Module: abi.HostModule, Name: abi.ImportAppend}
	}

	m := &Module{
		mem:      mem,
		imports:  imports,
		composer: func([]byte) []byte { return []byte(DefaultGreeting) },
		finisher: func(reply []byte) []byte { return reply },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.alloc = NewAllocator(mem, m.allocOpts...)
	return m, nil
}

// Allocator returns the module's allocator.
func (m *Module) Allocator() *Allocator {
	return m.alloc
}

// Memory returns the module's linear memory.
func (m *Module) Memory() abi.Memory {
	return m.mem
}

func (m *Module) finish(op string, err error) {
	s := errs.StatusOf(err)
	if s == errs.StatusInternal {
		s = errs.StatusProtocolViolation
	}
	if err != nil {
		// Logging may call back into the host, which runs other exports.
		// Record the status only afterwards.
		m.logger.Warn("guest export failed", "export", op, "status", s.String(), "error", err)
	}
	m.status = s
	m.lastErr = err
}

// Allocate is the allocate export. It returns 0 on failure.
func (m *Module) Allocate(n uint32) uint32 {
	ptr, err := m.alloc.Allocate(n)
	m.finish(abi.ExportAllocate, err)
	if err != nil {
		return 0
	}
	return ptr
}

// Free is the free export.
func (m *Module) Free(ptr, n uint32) {
	m.finish(abi.ExportFree, m.alloc.Free(ptr, n))
}

// SumBytes is the sum_bytes export. The block is borrowed, not freed.
func (m *Module) SumBytes(ptr, n uint32) uint32 {
	sum, err := SumBytes(m.mem, ptr, n)
	m.finish(abi.ExportSumBytes, err)
	return sum
}

// LastStatus is the last_status export.
func (m *Module) LastStatus() uint32 {
	return uint32(m.status)
}

// LastError returns the error behind LastStatus, for in-process callers.
func (m *Module) LastError() error {
	return m.lastErr
}

// LiveBlocks is the live_blocks export.
func (m *Module) LiveBlocks() uint32 {
	blocks, _ := m.alloc.Stats()
	return uint32(blocks) //nolint:gosec // G115: bounded by the allocation cap
}

// BeginConversation is the begin_conversation export. It takes ownership of
// the host's record and payload, calls host_append with its own fragment and
// returns a record for the final reply, or 0 with last_status set.
func (m *Module) BeginConversation(encodedRef uint32) uint32 {
	c := &conversation{m: m, state: StateAwaitingInput}
	out, err := c.run(encodedRef)
	if err != nil {
		c.fail(err)
	}
	m.finish(abi.ExportBeginConversation, err)
	return out
}

// Receive takes ownership of an encoded reference the guest was handed: the
// record must be a live 8-byte block and is freed here; the payload must be
// a live block and is returned as an Owned handle.
func (a *Allocator) Receive(mem abi.Memory, encodedRef uint32) (*Owned, error) {
	if !a.IsLive(encodedRef, abi.RefSize) {
		return nil, &errs.ProtocolError{
			Op:     "decode",
			Ptr:    encodedRef,
			Len:    abi.RefSize,
			Reason: "record is not a live block",
			Err:    &errs.FreeError{Kind: errs.ErrUseAfterFree, Ptr: encodedRef, Len: abi.RefSize},
		}
	}

	ref, decodeErr := abi.Decode(mem, encodedRef)
	if err := a.Free(encodedRef, abi.RefSize); err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	owned, err := a.Own(ref)
	if err != nil {
		return nil, &errs.ProtocolError{Op: "decode", Ptr: ref.Ptr, Len: ref.Len, Reason: "payload is not a live block", Err: err}
	}
	return owned, nil
}

// Send encodes the owned block into a fresh record and transfers both to the
// receiver of the returned pointer. On error the block is released.
func (a *Allocator) Send(mem abi.Memory, o *Owned) (uint32, error) {
	rec, err := abi.Encode(mem, a.Allocate, o.Ref())
	if err != nil {
		_ = o.Release()
		return 0, err
	}
	if _, err := o.Transfer(); err != nil {
		_ = a.Free(rec, abi.RefSize)
		return 0, err
	}
	return rec, nil
}

type conversation struct {
	m     *Module
	owned []*Owned
	state State
}

func (c *conversation) to(next State) {
	c.m.logger.Debug("conversation state", "from", c.state.String(), "to", next.String())
	c.state = next
}

func (c *conversation) hold(o *Owned) *Owned {
	c.owned = append(c.owned, o)
	return o
}

func (c *conversation) fail(err error) {
	failedIn := c.state
	c.to(StateFailed)
	for _, o := range c.owned {
		if !o.Done() {
			_ = o.Release()
		}
	}
	c.m.logger.Debug("conversation failed", "state", failedIn.String(), "error", err)
}

func (c *conversation) run(encodedRef uint32) (uint32, error) {
	m := c.m

	input, err := m.alloc.Receive(m.mem, encodedRef)
	if err != nil {
		return 0, err
	}
	c.hold(input)
	c.to(StateDecoded)

	data, err := input.Bytes()
	if err != nil {
		return 0, err
	}
	if err := input.Release(); err != nil {
		return 0, err
	}
	fragment := m.composer(data)
	c.to(StateProcessedLocally)

	out, err := m.alloc.AllocateOwned(fragment)
	if err != nil {
		return 0, err
	}
	c.hold(out)
	c.to(StateInvokingCallback)

	rec, err := m.alloc.Send(m.mem, out)
	if err != nil {
		return 0, err
	}
	result := m.imports.HostAppend(rec)
	c.to(StateAwaitingCallbackResult)

	if result == 0 {
		return 0, errs.ErrCallbackFailed
	}
	reply, err := m.alloc.Receive(m.mem, result)
	if err != nil {
		return 0, err
	}
	c.hold(reply)
	c.to(StateEncoding)

	replyBytes, err := reply.Bytes()
	if err != nil {
		return 0, err
	}
	final := reply
	if finished := m.finisher(replyBytes); !bytes.Equal(finished, replyBytes) {
		if final, err = m.alloc.AllocateOwned(finished); err != nil {
			return 0, err
		}
		c.hold(final)
		if err := reply.Release(); err != nil {
			return 0, err
		}
	}

	ret, err := m.alloc.Send(m.mem, final)
	if err != nil {
		return 0, err
	}
	c.to(StateReturning)
	return ret, nil
}
