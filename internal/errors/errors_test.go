package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Conversation not found")
		assert.Equal(t, "NOT_FOUND: Conversation not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := TransientDelivery("provider timeout", cause)
		assert.Contains(t, err.Error(), "TRANSIENT_DELIVERY")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(ErrCodeDatabase, "query failed", cause)

	assert.ErrorIs(t, err, cause)
}

func TestAsAppError(t *testing.T) {
	t.Run("direct AppError", func(t *testing.T) {
		err := UnsupportedChannel("carrier-pigeon")
		appErr, ok := AsAppError(err)
		assert.True(t, ok)
		assert.Equal(t, ErrCodeUnsupportedChannel, appErr.Code)
	})

	t.Run("wrapped AppError", func(t *testing.T) {
		inner := PermanentDelivery("invalid recipient", nil)
		wrapped := fmt.Errorf("dispatch: %w", inner)

		appErr, ok := AsAppError(wrapped)
		assert.True(t, ok)
		assert.Equal(t, ErrCodePermanentDelivery, appErr.Code)
	})

	t.Run("plain error", func(t *testing.T) {
		_, ok := AsAppError(errors.New("plain"))
		assert.False(t, ok)
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeRateLimitExceeded, GetCode(RateLimitExceeded()))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("unknown")))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(TransientDelivery("timeout", nil)))
	assert.False(t, IsTransient(PermanentDelivery("bad recipient", nil)))
	assert.False(t, IsTransient(errors.New("plain")))
}
