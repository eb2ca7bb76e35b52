package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	err := New(CodeDoubleSpend, "token already consumed")
	assert.True(t, HasCode(err, CodeDoubleSpend))
	assert.False(t, HasCode(err, CodeRevoked))
	assert.False(t, HasCode(nil, CodeDoubleSpend))
	assert.False(t, HasCode(errors.New("plain"), CodeDoubleSpend))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeAuditUnavailable, "wal append failed")

	require.Error(t, err)
	assert.True(t, HasCode(err, CodeAuditUnavailable))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "wal append failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrap_NilReturnsNil(t *testing.T) {
	// A typed nil must not leak out as a non-nil error value.
	var err error = Wrap(nil, CodeInternal, "should vanish")
	assert.NoError(t, err)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeTierViolation, CodeOf(New(CodeTierViolation, "denied")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("untagged")))

	// Code survives further wrapping by callers.
	wrapped := fmt.Errorf("authorize: %w", New(CodeQuarantined, "containment active"))
	assert.Equal(t, CodeQuarantined, CodeOf(wrapped))
}

func TestDenyCodes_Complete(t *testing.T) {
	seen := make(map[Code]bool, len(DenyCodes))
	for _, code := range DenyCodes {
		assert.False(t, seen[code], "duplicate deny code %s", code)
		seen[code] = true
	}
	assert.Len(t, DenyCodes, 8)
}
