package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNotFound, "link not found")
		assert.Equal(t, "[NOT_FOUND] link not found", err.Error())
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("disk I/O error")
		err := Wrap(original, CodeStoreFailure, "commit failed")
		assert.Equal(t, "[STORE_FAILURE] commit failed: disk I/O error", err.Error())
		assert.True(t, errors.Is(err, original))
	})

	t.Run("WrapNil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "nothing"))
		assert.NoError(t, Store(nil, "select"))
	})

	t.Run("IsCode", func(t *testing.T) {
		err := Store(errors.New("locked"), "insert topic")
		assert.True(t, IsCode(err, CodeStoreFailure))
		assert.False(t, IsCode(err, CodePoisoned))
		assert.False(t, IsCode(errors.New("plain"), CodeStoreFailure))
	})

	t.Run("AddContext", func(t *testing.T) {
		err := AddContext(New(CodeValidationError, "bad field"), CtxField, "Symbol")
		var de *DomainError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "Symbol", de.Context[CtxField])

		wrapped := AddContext(errors.New("plain"), CtxPath, "a.go")
		assert.True(t, IsCode(wrapped, CodeInternal))
	})

	t.Run("Panicf", func(t *testing.T) {
		defer func() {
			r := recover()
			de, ok := r.(*DomainError)
			require.True(t, ok)
			assert.Equal(t, CodeLockDiscipline, de.Code)
			assert.Equal(t, "no lock held", de.Message)
		}()
		Panicf(CodeLockDiscipline, "no %s held", "lock")
	})
}
