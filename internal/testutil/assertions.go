// Package testutil provides assertions shared by tests that drive a guest
// across the boundary.
package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/reglet-dev/memexchange/domain/errors"
	"github.com/reglet-dev/memexchange/domain/ports"
	"github.com/reglet-dev/memexchange/internal/guestcall"
)

// AssertLiveBlocks asserts the guest currently holds want live blocks.
func AssertLiveBlocks(t testing.TB, ctx context.Context, g ports.Guest, want uint32, msgAndArgs ...interface{}) {
	t.Helper()
	live, err := guestcall.LiveBlocks(ctx, g)
	require.NoError(t, err, "live_blocks")
	assert.Equal(t, want, live, msgAndArgs...)
}

// AssertNoLeaks asserts the guest holds no live blocks.
func AssertNoLeaks(t testing.TB, ctx context.Context, g ports.Guest, msgAndArgs ...interface{}) {
	t.Helper()
	AssertLiveBlocks(t, ctx, g, 0, msgAndArgs...)
}

// AssertStatus asserts the guest's last_status. Statuses are compared by
// name so failures read as "DoubleFree" rather than 2.
func AssertStatus(t testing.TB, ctx context.Context, g ports.Guest, want errs.Status) {
	t.Helper()
	got, err := guestcall.Status(ctx, g)
	require.NoError(t, err, "last_status")
	assert.Equal(t, want.String(), got.String())
}

// AssertProtocolViolation asserts err is a protocol violation whose reason
// contains reason.
func AssertProtocolViolation(t testing.TB, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProtocolViolation)

	var pe *errs.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, reason)
}

// AssertJSONEqual compares two JSON strings for equality, ignoring formatting
func AssertJSONEqual(t testing.TB, expected, actual string, msgAndArgs ...interface{}) {
	t.Helper()

	var expectedJSON, actualJSON interface{}
	require.NoError(t, json.Unmarshal([]byte(expected), &expectedJSON), "expected JSON is invalid")
	require.NoError(t, json.Unmarshal([]byte(actual), &actualJSON), "actual JSON is invalid")

	assert.Equal(t, expectedJSON, actualJSON, msgAndArgs...)
}
