// Package guest implements the guest side of the memory-exchange protocol:
// the allocator that owns the guest's linear memory, owned block handles, and
// the exported entry points a host calls across the boundary.
//
// The code here is plain Go over an abi.Memory so the same logic runs in two
// places: in-process against a linear.Memory (infrastructure/native), and
// compiled for wasip1 against the module's real linear memory (cmd/guest).
//
// Ownership follows one rule: whoever receives a pointer across the boundary
// owns the block and frees it exactly once. The guest therefore frees the
// host's input and the host's callback reply, while the fragment it passes to
// host_append and the reply it returns belong to the host.
package guest
