package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("boom")))
	assert.Equal(t, ErrCodeValidation, CodeOf(NewValidationError("bio", "too long")))

	wrapped := fmt.Errorf("outer: %w", NewRemoteError("load", stderrors.New("dial")))
	assert.Equal(t, ErrCodeRemoteUnavailable, CodeOf(wrapped))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewRemoteError("save", stderrors.New("timeout"))))
	assert.False(t, Retryable(NewValidationError("answers", "missing")))
	assert.False(t, Retryable(stderrors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("db down")
	err := Wrap(cause, ErrCodeRemoteUnavailable, "load profile")
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "REMOTE_UNAVAILABLE")
	assert.Contains(t, err.Error(), "db down")
}

func TestFromPanic(t *testing.T) {
	err := FromPanic("Save", "nil map")
	assert.Equal(t, ErrCodeInternal, err.Code)
	assert.Equal(t, "nil map", err.Details["panic"])
}

func TestRecoverConvertsPanic(t *testing.T) {
	run := func() (err error) {
		defer Recover("profile.Save", &err)
		var m map[string]int
		m["boom"]++
		return nil
	}

	err := run()
	require.Error(t, err)
	assert.Equal(t, ErrCodeInternal, CodeOf(err))
	appErr, ok := AsAppError(err)
	require.True(t, ok)
	assert.Contains(t, appErr.Message, "profile.Save")
}

func TestRecoverLeavesErrorUntouchedWithoutPanic(t *testing.T) {
	run := func() (err error) {
		defer Recover("op", &err)
		return NewAuthMissingError()
	}
	assert.True(t, Is(run(), ErrCodeAuthMissing))
}
