package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_FormatsContextAndCause(t *testing.T) {
	err := Wrap(errors.New("boom"), ErrRetryable, "translation failed").
		WithContext("token", "abc").
		WithContext("attempt", 2)

	assert.Equal(t, "[Retryable] translation failed | context: attempt=2, token=abc | cause: boom", err.Error())
}

func TestIsErrorType_ThroughWrapping(t *testing.T) {
	base := New(ErrNotFound, "session not found")
	wrapped := fmt.Errorf("lookup: %w", base)

	assert.True(t, IsErrorType(wrapped, ErrNotFound))
	assert.False(t, IsErrorType(wrapped, ErrConflict))
	assert.False(t, IsErrorType(errors.New("plain"), ErrNotFound))
	assert.True(t, errors.Is(wrapped, New(ErrNotFound, "")))
	assert.False(t, errors.Is(wrapped, New(ErrBusy, "")))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrPermanent, TypeOf(New(ErrPermanent, "rejected")))
	assert.Equal(t, ErrInternal, TypeOf(errors.New("plain")))
	assert.Equal(t, "RetryExhausted", ErrRetryExhausted.String())
}
