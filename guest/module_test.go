package guest

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/internal/abi"
	"github.com/reglet-dev/memexchange/internal/linear"
)

// fakeHost plays the host side of host_append against a Module, following
// the same ownership rules as the real host.
type fakeHost struct {
	m        *Module
	reply    func(fragment []byte) ([]byte, bool)
	received []string
	raw      func(m *Module) uint32
}

func (h *fakeHost) HostAppend(rec uint32) uint32 {
	mem := h.m.Memory()
	ref, err := abi.Decode(mem, rec)
	if err != nil {
		return 0
	}
	data, err := abi.ReadPayload(mem, ref)
	if err != nil {
		return 0
	}
	h.m.Free(ref.Ptr, ref.Len)
	h.m.Free(rec, abi.RefSize)
	h.received = append(h.received, string(data))

	if h.raw != nil {
		return h.raw(h.m)
	}
	out, ok := h.reply(data)
	if !ok {
		return 0
	}
	return hostSend(h.m, out)
}

func hostSend(m *Module, data []byte) uint32 {
	n := uint32(len(data))
	ptr := m.Allocate(n)
	if n > 0 && !m.Memory().Write(ptr, data) {
		return 0
	}
	rec, err := abi.Encode(m.Memory(), func(size uint32) (uint32, error) {
		return m.Allocate(size), nil
	}, abi.SizedRef{Ptr: ptr, Len: n})
	if err != nil {
		return 0
	}
	return rec
}

func hostReceive(t *testing.T, m *Module, rec uint32) string {
	t.Helper()
	ref, err := abi.Decode(m.Memory(), rec)
	require.NoError(t, err)
	data, err := abi.ReadPayload(m.Memory(), ref)
	require.NoError(t, err)

	m.Free(ref.Ptr, ref.Len)
	require.Equal(t, uint32(errs.StatusOK), m.LastStatus())
	m.Free(rec, abi.RefSize)
	require.Equal(t, uint32(errs.StatusOK), m.LastStatus())
	return string(data)
}

func appendSuffix(fragment []byte) ([]byte, bool) {
	return append(fragment, ", I am doing good"...), true
}

func newTestModule(t *testing.T, host *fakeHost, opts ...Option) *Module {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	m, err := New(linear.New(1, 16), host, opts...)
	require.NoError(t, err)
	host.m = m
	return m
}

func TestModule_RoundTrip(t *testing.T) {
	host := &fakeHost{reply: appendSuffix}
	m := newTestModule(t, host)

	rec := hostSend(m, []byte("Hello From Host"))
	require.NotZero(t, rec)

	out := m.BeginConversation(rec)
	require.Equal(t, uint32(errs.StatusOK), m.LastStatus(), "last error: %v", m.LastError())
	require.NotZero(t, out)

	assert.Equal(t, "Hi Guest, I am doing good", hostReceive(t, m, out))
	assert.Equal(t, []string{"Hi Guest"}, host.received)
	assert.Zero(t, m.LiveBlocks(), "every block released by its receiver")
}

func TestModule_ComposerAndFinisher(t *testing.T) {
	host := &fakeHost{reply: appendSuffix}
	m := newTestModule(t, host,
		WithComposer(func(in []byte) []byte { return append([]byte("echo: "), in...) }),
		WithFinisher(bytes.ToUpper),
	)

	out := m.BeginConversation(hostSend(m, []byte("ping")))
	require.Equal(t, uint32(errs.StatusOK), m.LastStatus(), "last error: %v", m.LastError())

	assert.Equal(t, "ECHO: PING, I AM DOING GOOD", hostReceive(t, m, out))
	assert.Zero(t, m.LiveBlocks())
}

func TestModule_EmptyReply(t *testing.T) {
	host := &fakeHost{reply: func([]byte) ([]byte, bool) { return nil, true }}
	m := newTestModule(t, host)

	out := m.BeginConversation(hostSend(m, []byte("x")))
	require.Equal(t, uint32(errs.StatusOK), m.LastStatus())
	require.NotZero(t, out, "an empty reply still has a record")

	ref, err := abi.Decode(m.Memory(), out)
	require.NoError(t, err)
	assert.True(t, ref.IsZero())

	m.Free(out, abi.RefSize)
	assert.Zero(t, m.LiveBlocks())
}

func TestModule_Failures(t *testing.T) {
	tests := []struct {
		name   string
		host   *fakeHost
		input  func(m *Module) uint32
		status errs.Status
		cause  error
	}{
		{
			name:   "callback fails",
			host:   &fakeHost{reply: func([]byte) ([]byte, bool) { return nil, false }},
			input:  func(m *Module) uint32 { return hostSend(m, []byte("Hello From Host")) },
			status: errs.StatusCallbackFailed,
			cause:  errs.ErrCallbackFailed,
		},
		{
			name:   "record outside memory",
			host:   &fakeHost{reply: appendSuffix},
			input:  func(*Module) uint32 { return 0xFFFF0000 },
			status: errs.StatusProtocolViolation,
			cause:  errs.ErrUseAfterFree,
		},
		{
			name:   "null record",
			host:   &fakeHost{reply: appendSuffix},
			input:  func(*Module) uint32 { return 0 },
			status: errs.StatusProtocolViolation,
			cause:  errs.ErrProtocolViolation,
		},
		{
			name: "record already freed",
			host: &fakeHost{reply: appendSuffix},
			input: func(m *Module) uint32 {
				rec := hostSend(m, []byte("Hello From Host"))
				ref, _ := abi.Decode(m.Memory(), rec)
				m.Free(ref.Ptr, ref.Len)
				m.Free(rec, abi.RefSize)
				return rec
			},
			status: errs.StatusProtocolViolation,
			cause:  errs.ErrUseAfterFree,
		},
		{
			name: "callback reply not a live block",
			host: &fakeHost{raw: func(m *Module) uint32 {
				rec := m.Allocate(abi.RefSize)
				_ = abi.WriteRef(m.Memory(), rec, abi.SizedRef{Ptr: 16, Len: 4})
				return rec
			}},
			input:  func(m *Module) uint32 { return hostSend(m, []byte("Hello From Host")) },
			status: errs.StatusProtocolViolation,
			cause:  errs.ErrUseAfterFree,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModule(t, tt.host)

			out := m.BeginConversation(tt.input(m))
			assert.Zero(t, out)
			assert.Equal(t, uint32(tt.status), m.LastStatus())
			assert.True(t, errors.Is(m.LastError(), tt.cause), "got %v", m.LastError())
			assert.Zero(t, m.LiveBlocks(), "owned blocks are released on failure")
		})
	}
}

func TestModule_PayloadOwnershipIsSingleUse(t *testing.T) {
	host := &fakeHost{reply: appendSuffix}
	m := newTestModule(t, host)

	// Keep one unrelated block live so the allocator does not rewind.
	keep := m.Allocate(8)
	rec := hostSend(m, []byte("Hello From Host"))

	out := m.BeginConversation(rec)
	require.Equal(t, uint32(errs.StatusOK), m.LastStatus())
	hostReceive(t, m, out)

	// The guest consumed rec; replaying it must not decode.
	assert.Zero(t, m.BeginConversation(rec))
	assert.Equal(t, uint32(errs.StatusProtocolViolation), m.LastStatus())

	m.Free(keep, 8)
	assert.Zero(t, m.LiveBlocks())
}

func TestModule_ExportStatuses(t *testing.T) {
	m := newTestModule(t, &fakeHost{reply: appendSuffix}, WithAllocator(WithMaxTotalAllocations(16)))

	assert.Zero(t, m.Allocate(32))
	assert.Equal(t, uint32(errs.StatusAllocationFailure), m.LastStatus())

	ptr := m.Allocate(10)
	require.NotZero(t, ptr)
	assert.Equal(t, uint32(errs.StatusOK), m.LastStatus())

	m.Free(ptr, 9)
	assert.Equal(t, uint32(errs.StatusSizeMismatch), m.LastStatus())

	m.Free(ptr, 10)
	assert.Equal(t, uint32(errs.StatusOK), m.LastStatus())

	m.Free(ptr, 10)
	assert.Equal(t, uint32(errs.StatusDoubleFree), m.LastStatus())

	assert.Zero(t, m.SumBytes(linear.PageSize-1, 2))
	assert.Equal(t, uint32(errs.StatusProtocolViolation), m.LastStatus())
}

func TestModule_SumBytesBorrows(t *testing.T) {
	m := newTestModule(t, &fakeHost{reply: appendSuffix})

	ptr := m.Allocate(10)
	require.True(t, m.Memory().Write(ptr, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))

	assert.Equal(t, uint32(55), m.SumBytes(ptr, 10))
	assert.Equal(t, uint32(errs.StatusOK), m.LastStatus())
	assert.Equal(t, uint32(1), m.LiveBlocks(), "sum_bytes does not free")

	m.Free(ptr, 10)
	assert.Zero(t, m.LiveBlocks())
}

func TestNew_WithoutImports(t *testing.T) {
	_, err := New(linear.New(1, 1), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCallbackUnavailable))

	var cu *errs.CallbackUnavailableError
	require.True(t, errors.As(err, &cu))
	assert.Equal(t, abi.ImportAppend, cu.Name)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "awaiting_input", StateAwaitingInput.String())
	assert.Equal(t, "awaiting_callback_result", StateAwaitingCallbackResult.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(200).String())
}
