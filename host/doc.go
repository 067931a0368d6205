// Package host orchestrates conversations with sandboxed guests.
//
// An Executor owns a wazero runtime with the exchange host module registered
// and turns wasm bytes into isolated instances. A Sandbox hands out instances
// from either engine: wazero or the in-process native guest. A Session drives
// one instance at a time through the protocol: it writes payloads into the
// guest, encodes references, calls begin_conversation and reads back and
// releases the reply, tracking which blocks it owns along the way.
package host
