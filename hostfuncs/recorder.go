package hostfuncs

import (
	"context"
	"errors"
	"sync"

	"github.com/reglet-dev/memexchange/domain/entities"
)

type recorderKey struct{}

// Recorder collects the boundary calls and host-side callback failures of one
// conversation. A nil *Recorder discards everything.
type Recorder struct {
	steps []entities.Step
	errs  []error
	mu    sync.Mutex
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// WithRecorder attaches r to ctx. Host callbacks invoked under the returned
// context report to r.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// RecorderFrom returns the recorder attached to ctx, or nil.
func RecorderFrom(ctx context.Context) *Recorder {
	r, _ := ctx.Value(recorderKey{}).(*Recorder)
	return r
}

// Step appends a boundary call.
func (r *Recorder) Step(s entities.Step) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

// Fail records a host-side failure the guest could only see as a 0.
func (r *Recorder) Fail(err error) {
	if r == nil || err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Steps returns a copy of the recorded calls.
func (r *Recorder) Steps() []entities.Step {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Err joins every recorded failure.
func (r *Recorder) Err() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.errs...)
}
