// Package wazero provides adapters between the exchange protocol and the
// wazero runtime.
//
// RegisterWithRuntime exports every handler of a hostfuncs.Bridge as a
// function of the "exchange_host" module. Each function takes one i32, the
// address of an 8-byte encoded reference in the caller's memory, and returns
// another, or nothing for imports the registry declares as notifications
// such as log_message:
//
//	bridge := hostfuncs.NewBridge(registry)
//	if err := wazero.RegisterWithRuntime(ctx, runtime, bridge); err != nil {
//	    return err
//	}
//
// Guest and Instance adapt an api.Module to ports.Guest and ports.Instance so
// the host drives wazero modules and native guests through the same calls.
package wazero
