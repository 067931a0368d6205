// Package hostfuncs provides the host side of the guest's imports as pure Go:
// named byte handlers in an immutable registry, middleware around them, and
// the Bridge that turns a scalar encoded reference from the guest into a
// handler call and the handler's reply back into a guest-owned reference.
//
// Nothing here depends on a WebAssembly runtime. The wazero adapter and the
// in-process sandbox both route their imports through a Bridge.
package hostfuncs
