package hostfuncs

import (
	"fmt"

	"github.com/reglet-dev/memexchange/domain/entities"
	errs "github.com/reglet-dev/memexchange/domain/errors"
)

// CallbackError is a failed host import call. The guest only sees a 0
// result; the host keeps the cause and joins it into the conversation error.
type CallbackError struct {
	Err  error
	Name string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("host callback %s failed: %v", e.Name, e.Err)
}

func (e *CallbackError) Unwrap() []error {
	return []error{errs.ErrCallbackFailed, e.Err}
}

// ToErrorDetail implements errs.DetailedError.
func (e *CallbackError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{
		Message: e.Error(),
		Type:    "callback",
		Code:    errs.StatusCallbackFailed.String(),
		Wrapped: errs.ToErrorDetail(e.Err),
	}
}

// PanicError is a recovered panic from a handler.
type PanicError struct {
	Value any
	Stack []byte
}

// NewPanicError wraps a recovered panic value.
func NewPanicError(panicValue any, stack []byte) *PanicError {
	return &PanicError{Value: panicValue, Stack: stack}
}

func (e *PanicError) Error() string {
	var msg string
	if err, ok := e.Value.(error); ok {
		msg = err.Error()
	} else if s, ok := e.Value.(string); ok {
		msg = s
	} else {
		msg = "panic recovered"
	}
	return "panic: " + msg
}

// ToErrorDetail implements errs.DetailedError.
func (e *PanicError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: "panic"}
}
