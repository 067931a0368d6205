// Package ports defines the interfaces the host orchestrator and the host
// callbacks depend on. Sandboxes (in-process or wazero) implement them, so the
// protocol logic is written once against these abstractions.
package ports
