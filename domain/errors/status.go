package errors

import (
	stdErrors "errors"
	"fmt"
)

// Status is the scalar outcome of a guest export, read by the host through
// the last_status export. The zero value means success.
type Status uint32

const (
	StatusOK Status = iota
	StatusAllocationFailure
	StatusDoubleFree
	StatusUseAfterFree
	StatusSizeMismatch
	StatusProtocolViolation
	StatusCallbackUnavailable
	StatusCallbackFailed

	// StatusInternal is never produced by a conforming guest. It stands in for
	// codes this host does not know.
	StatusInternal Status = 0xFFFFFFFF
)

var statusNames = map[Status]string{
	StatusOK:                  "ok",
	StatusAllocationFailure:   "allocation_failure",
	StatusDoubleFree:          "double_free",
	StatusUseAfterFree:        "use_after_free",
	StatusSizeMismatch:        "size_mismatch",
	StatusProtocolViolation:   "protocol_violation",
	StatusCallbackUnavailable: "callback_unavailable",
	StatusCallbackFailed:      "callback_failed",
	StatusInternal:            "internal",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

// Err returns the sentinel error for s, or nil for StatusOK.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusAllocationFailure:
		return ErrAllocationFailure
	case StatusDoubleFree:
		return ErrDoubleFree
	case StatusUseAfterFree:
		return ErrUseAfterFree
	case StatusSizeMismatch:
		return ErrSizeMismatch
	case StatusProtocolViolation:
		return ErrProtocolViolation
	case StatusCallbackUnavailable:
		return ErrCallbackUnavailable
	case StatusCallbackFailed:
		return ErrCallbackFailed
	}
	return fmt.Errorf("unknown guest status %d", uint32(s))
}

// StatusOf maps err to the Status a guest reports for it. Protocol violations
// take precedence over their causes, so a decode that hit a freed record
// reports StatusProtocolViolation.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case stdErrors.Is(err, ErrProtocolViolation):
		return StatusProtocolViolation
	case stdErrors.Is(err, ErrAllocationFailure):
		return StatusAllocationFailure
	case stdErrors.Is(err, ErrDoubleFree):
		return StatusDoubleFree
	case stdErrors.Is(err, ErrUseAfterFree):
		return StatusUseAfterFree
	case stdErrors.Is(err, ErrSizeMismatch):
		return StatusSizeMismatch
	case stdErrors.Is(err, ErrCallbackUnavailable):
		return StatusCallbackUnavailable
	case stdErrors.Is(err, ErrCallbackFailed):
		return StatusCallbackFailed
	}
	return StatusInternal
}
