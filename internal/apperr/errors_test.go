package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorListsFieldsInOrder(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{
		"phone": "must be at least 10 characters",
		"email": "must be a valid email address",
	}}
	assert.Equal(t, "validation failed: email: must be a valid email address; phone: must be at least 10 characters", err.Error())
}

func TestPersistenceWrapsOnce(t *testing.T) {
	base := errors.New("connection refused")

	err := Persistence("create order", base)
	var pe *PersistenceError
	assert.True(t, errors.As(err, &pe))
	assert.ErrorIs(t, err, base)

	again := Persistence("outer", err)
	assert.Same(t, err, again)
}

func TestPersistenceKeepsSentinels(t *testing.T) {
	assert.Nil(t, Persistence("noop", nil))
	assert.Equal(t, ErrNotFound, Persistence("get", ErrNotFound))

	wrapped := fmt.Errorf("actor: %w", ErrEmailTaken)
	assert.Equal(t, wrapped, Persistence("create actor", wrapped))
}

func TestSubmissionErrorUnwraps(t *testing.T) {
	inner := &PersistenceError{Op: "create order", Err: errors.New("disk full")}
	err := &SubmissionError{Err: inner}

	var pe *PersistenceError
	assert.True(t, errors.As(err, &pe))
	assert.Contains(t, err.Error(), "disk full")
}
