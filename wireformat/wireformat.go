// Package wireformat defines the JSON structures a guest sends to the host
// inside an encoded reference. The exchange protocol itself moves raw bytes;
// these shapes apply only to auxiliary imports such as log_message.
package wireformat

import (
	"time"
)

// ContextWireFormat is the JSON wire format for context.Context propagation.
type ContextWireFormat struct {
	Deadline  *time.Time `json:"deadline,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	TimeoutMs int64      `json:"timeout_ms,omitempty"`
	Canceled  bool       `json:"canceled,omitempty"`
}

// LogMessageWire is the JSON wire format for a log record from guest to host.
type LogMessageWire struct {
	Timestamp time.Time         `json:"timestamp"`
	Attrs     []LogAttrWire     `json:"attrs,omitempty"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Context   ContextWireFormat `json:"context"`
}

// LogAttrWire represents a single slog attribute for wire transfer.
type LogAttrWire struct {
	Key   string `json:"key"`
	Type  string `json:"type"`  // "string", "int64", "uint64", "bool", "float64", "time", "duration", "error", "json", "any"
	Value string `json:"value"` // String representation of the value
}
