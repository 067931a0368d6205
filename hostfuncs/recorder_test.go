package hostfuncs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/memexchange/domain/entities"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := WithRecorder(context.Background(), r)
	require.Same(t, r, RecorderFrom(ctx))

	RecorderFrom(ctx).Step(entities.Step{Direction: entities.HostToGuest, Call: "allocate", Params: []uint32{15}, Result: 1032})
	RecorderFrom(ctx).Step(entities.Step{Direction: entities.GuestToHost, Call: "host_append", Result: 1080})
	RecorderFrom(ctx).Fail(nil)

	steps := r.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "allocate", steps[0].Call)
	assert.Equal(t, entities.GuestToHost, steps[1].Direction)
	require.NoError(t, r.Err())

	steps[0].Call = "mutated"
	assert.Equal(t, "allocate", r.Steps()[0].Call, "Steps returns a copy")

	first, second := errors.New("first"), errors.New("second")
	r.Fail(first)
	r.Fail(second)
	assert.ErrorIs(t, r.Err(), first)
	assert.ErrorIs(t, r.Err(), second)
}

func TestRecorder_Nil(t *testing.T) {
	r := RecorderFrom(context.Background())
	assert.Nil(t, r)

	r.Step(entities.Step{Call: "free"})
	r.Fail(errors.New("ignored"))
	assert.Nil(t, r.Steps())
	assert.NoError(t, r.Err())
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Step(entities.Step{Call: "live_blocks"})
		}()
	}
	wg.Wait()
	assert.Len(t, r.Steps(), 16)
}
