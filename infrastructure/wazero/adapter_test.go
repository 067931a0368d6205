package wazero

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/hostfuncs"
	"github.com/reglet-dev/memexchange/internal/abi"
	"github.com/reglet-dev/memexchange/internal/guestcall"
	"github.com/reglet-dev/memexchange/internal/watguest"
)

func newRuntime(t *testing.T, opts ...AdapterOption) (context.Context, wazero.Runtime) {
	t.Helper()
	ctx := context.Background()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := hostfuncs.NewRegistry(hostfuncs.WithBundle(hostfuncs.ExchangeBundle(hostfuncs.WithGuestLogger(quiet))))
	require.NoError(t, err)

	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = rt.Close(ctx) })
	require.NoError(t, RegisterWithRuntime(ctx, rt, hostfuncs.NewBridge(reg, hostfuncs.WithBridgeLogger(quiet)), opts...))
	return ctx, rt
}

func instantiate(t *testing.T, ctx context.Context, rt wazero.Runtime, wasm []byte, name string) api.Module {
	t.Helper()
	mod, err := rt.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithName(name))
	require.NoError(t, err)
	return mod
}

func TestRegisterWithRuntime_Conversation(t *testing.T) {
	ctx, rt := newRuntime(t)
	wasm, err := watguest.Wasm()
	require.NoError(t, err)

	inst := NewInstance(instantiate(t, ctx, rt, wasm, "guest-a"))
	defer inst.Close(ctx)
	assert.Equal(t, "guest-a", inst.Name())
	assert.Empty(t, MissingExports(inst.mod))

	rec, err := guestcall.Send(ctx, inst, []byte("Hello From Host"))
	require.NoError(t, err)

	out, err := guestcall.Call(ctx, inst, abi.ExportBeginConversation, rec)
	require.NoError(t, err)
	require.NotZero(t, out)

	reply, err := guestcall.Receive(ctx, inst, out, 0)
	require.NoError(t, err)
	assert.Equal(t, watguest.Greeting+hostfuncs.DefaultAppendSuffix, string(reply))

	live, err := guestcall.LiveBlocks(ctx, inst)
	require.NoError(t, err)
	assert.Zero(t, live)
}

func TestRegisterWithRuntime_ExportShapes(t *testing.T) {
	_, rt := newRuntime(t)

	host := rt.Module(abi.HostModule)
	require.NotNil(t, host)

	appendFn := host.ExportedFunction(abi.ImportAppend)
	require.NotNil(t, appendFn)
	assert.Equal(t, []api.ValueType{api.ValueTypeI32}, appendFn.Definition().ParamTypes())
	assert.Equal(t, []api.ValueType{api.ValueTypeI32}, appendFn.Definition().ResultTypes())

	logFn := host.ExportedFunction(abi.ImportLogEvent)
	require.NotNil(t, logFn)
	assert.Equal(t, []api.ValueType{api.ValueTypeI32}, logFn.Definition().ParamTypes())
	assert.Empty(t, logFn.Definition().ResultTypes())
}

func TestRegisterWithRuntime_ModuleName(t *testing.T) {
	ctx, rt := newRuntime(t, WithModuleName("alt_host"))
	assert.Nil(t, rt.Module(abi.HostModule))
	assert.NotNil(t, rt.Module("alt_host"))

	wasm, err := watguest.Wasm()
	require.NoError(t, err)
	_, err = rt.Instantiate(ctx, wasm)
	require.Error(t, err, "the guest imports exchange_host")
}

func TestGuest_Call_Errors(t *testing.T) {
	ctx, rt := newRuntime(t)
	wasm, err := watguest.Compile(`(module
		(memory (export "memory") 1)
		(func (export "trap") unreachable))`)
	require.NoError(t, err)

	mod := instantiate(t, ctx, rt, wasm, "bare")
	g := NewGuest(mod)

	_, err = g.Call(ctx, abi.ExportAllocate, 8)
	assert.ErrorIs(t, err, errs.ErrProtocolViolation)

	_, err = g.Call(ctx, "trap")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trapped in trap")

	assert.Equal(t, abi.RequiredExports, MissingExports(mod))
}
