package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimError(t *testing.T) {
	err := New(ErrCodeSessionNotFound, "session not found")
	assert.Equal(t, ErrCodeSessionNotFound, err.Code)
	assert.Equal(t, "SESSION_NOT_FOUND: session not found", err.Error())

	cause := fmt.Errorf("connection refused")
	wrapped := Wrap(cause, ErrCodeQueryFailed, "query failed")
	assert.Equal(t, cause, wrapped.Unwrap())
	assert.True(t, Is(wrapped, ErrCodeQueryFailed))
	assert.False(t, Is(wrapped, ErrCodeSessionNotFound))
	assert.Contains(t, wrapped.Error(), "caused by: connection refused")

	detailed := err.WithDetail("sessionId", "s1").WithDetail("pid", 42)
	assert.Equal(t, "s1", detailed.Details["sessionId"])
	assert.Equal(t, 42, detailed.Details["pid"])
}

func TestIsWalksChain(t *testing.T) {
	inner := SessionNotFound("s1")
	outer := ReleaseFailed("s1", inner)
	fmtWrapped := fmt.Errorf("heal: %w", outer)

	assert.True(t, Is(fmtWrapped, ErrCodeReleaseFailed))
	assert.True(t, Is(fmtWrapped, ErrCodeSessionNotFound))
	assert.False(t, Is(fmtWrapped, ErrCodeLockHeld))
	assert.False(t, Is(nil, ErrCodeInternal))
	assert.Equal(t, ErrCodeReleaseFailed, GetCode(fmtWrapped))
	assert.Equal(t, ErrorCode(""), GetCode(fmt.Errorf("plain")))
}

func TestErrorConstructors(t *testing.T) {
	err := ClaimConflict("SD-1", "sess_a")
	assert.Equal(t, ErrCodeClaimConflict, err.Code)
	assert.Equal(t, "SD-1", err.Details["workKey"])

	err = LockHeld("/tmp/x.pid", 99)
	assert.Equal(t, ErrCodeLockHeld, err.Code)
	assert.Equal(t, 99, err.Details["pid"])

	err = BudgetExceeded(2*time.Second, 3)
	assert.Equal(t, "2s", err.Details["budget"])
	assert.Equal(t, 3, err.Details["deferred"])

	err = StoreUnavailable("mysql", fmt.Errorf("dial tcp"))
	require.Error(t, err.Cause)
	assert.Equal(t, "mysql", err.Details["driver"])
}

func TestToJSON(t *testing.T) {
	out := ConfigNotFound("/x/claims.yml").ToJSON()
	assert.Contains(t, out, `"code": "CONFIG_NOT_FOUND"`)
	assert.Contains(t, out, `"path": "/x/claims.yml"`)
}
