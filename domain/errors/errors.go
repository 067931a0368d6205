// Package errors provides the error taxonomy of the exchange protocol.
// All error types support error unwrapping via errors.As() and errors.Is().
//
// Native error values cannot cross the host/guest boundary, so every error is
// also representable as a Status scalar. StatusOf converts an error into the
// scalar a guest export reports, and Status.Err converts it back on the host.
package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/reglet-dev/memexchange/domain/entities"
)

// Sentinel errors. Typed errors below unwrap to exactly one of these.
var (
	ErrAllocationFailure   = stdErrors.New("allocation failure")
	ErrDoubleFree          = stdErrors.New("double free")
	ErrUseAfterFree        = stdErrors.New("use after free")
	ErrSizeMismatch        = stdErrors.New("size mismatch")
	ErrProtocolViolation   = stdErrors.New("protocol violation")
	ErrCallbackUnavailable = stdErrors.New("callback unavailable")
	ErrCallbackFailed      = stdErrors.New("callback failed")
)

// DetailedError is implemented by errors that can describe themselves as a
// structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to our structured ErrorDetail.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	detail := &entities.ErrorDetail{
		Message: err.Error(),
		Type:    "internal",
	}
	if s := StatusOf(err); s != StatusOK && s != StatusInternal {
		detail.Type = "protocol"
		detail.Code = s.String()
	}
	return detail
}

// AllocationError reports that the guest allocator could not satisfy a request.
type AllocationError struct {
	Requested uint32 // bytes asked for
	Available uint32 // bytes that could still be handed out
	Reason    string
}

func (e *AllocationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("allocation failure: requested %d bytes, %d available: %s", e.Requested, e.Available, e.Reason)
	}
	return fmt.Sprintf("allocation failure: requested %d bytes, %d available", e.Requested, e.Available)
}

func (e *AllocationError) Unwrap() error {
	return ErrAllocationFailure
}

// ToErrorDetail implements DetailedError.
func (e *AllocationError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "memory", Code: StatusAllocationFailure.String()}
}

// FreeError reports an invalid free or an access to a block that is not live.
// Kind is one of ErrDoubleFree, ErrUseAfterFree or ErrSizeMismatch.
type FreeError struct {
	Kind error
	Ptr  uint32
	Len  uint32
	Want uint32 // original length, only meaningful for ErrSizeMismatch
}

func (e *FreeError) Error() string {
	if e.Kind == ErrSizeMismatch {
		return fmt.Sprintf("%v: block 0x%x has length %d, got %d", e.Kind, e.Ptr, e.Want, e.Len)
	}
	return fmt.Sprintf("%v: block 0x%x (len %d) is not live", e.Kind, e.Ptr, e.Len)
}

func (e *FreeError) Unwrap() error {
	return e.Kind
}

// ToErrorDetail implements DetailedError.
func (e *FreeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "memory", Code: StatusOf(e).String()}
}

// ProtocolError reports a malformed encoded reference or an out-of-bounds
// range. Err optionally carries the underlying cause (e.g. ErrUseAfterFree).
type ProtocolError struct {
	Err    error
	Op     string
	Reason string
	Ptr    uint32
	Len    uint32
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol violation in %s at 0x%x (len %d): %s", e.Op, e.Ptr, e.Len, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrProtocolViolation, e.Err}
	}
	return []error{ErrProtocolViolation}
}

// ToErrorDetail implements DetailedError.
func (e *ProtocolError) ToErrorDetail() *entities.ErrorDetail {
	detail := &entities.ErrorDetail{Message: e.Error(), Type: "protocol", Code: StatusProtocolViolation.String()}
	if e.Err != nil {
		detail.Wrapped = ToErrorDetail(e.Err)
	}
	return detail
}

// CallbackUnavailableError reports a guest import the host does not provide.
type CallbackUnavailableError struct {
	Module string
	Name   string
}

func (e *CallbackUnavailableError) Error() string {
	return fmt.Sprintf("callback unavailable: host does not provide %s.%s", e.Module, e.Name)
}

func (e *CallbackUnavailableError) Unwrap() error {
	return ErrCallbackUnavailable
}

// ToErrorDetail implements DetailedError.
func (e *CallbackUnavailableError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "instantiation", Code: StatusCallbackUnavailable.String(), IsNotFound: true}
}

// StatusError is the host-side view of a non-OK status reported by a guest export.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("guest %s reported %s", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Status.Err()
}

// ToErrorDetail implements DetailedError.
func (e *StatusError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "guest", Code: e.Status.String()}
}
