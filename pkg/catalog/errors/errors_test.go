package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code ErrorCode
		want string
	}{
		{ErrTransientTransfer, "TransientTransfer"},
		{ErrDataTransfer, "DataTransfer"},
		{ErrIntegrity, "Integrity"},
		{ErrConfig, "Config"},
		{ErrNotFound, "NotFound"},
		{ErrLockContention, "LockContention"},
		{ErrorCode(99), "Unknown(99)"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.code.String())
	}
}

func TestStoreErrorMessageIncludesPath(t *testing.T) {
	t.Parallel()

	withPath := NewNotFoundError("s3://bucket/key")
	assert.Contains(t, withPath.Error(), "path: s3://bucket/key")

	withoutPath := NewConfigError("missing bucket")
	assert.NotContains(t, withoutPath.Error(), "path:")
}

func TestStoreErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	wrapped := NewTransientTransferError("s3://bucket/key", cause)

	assert.ErrorIs(t, wrapped, cause)
}

func TestClassificationHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTransient(NewTransientTransferError("p", nil)))
	assert.True(t, IsDataTransferError(NewDataTransferError("p", nil)))
	assert.True(t, IsIntegrityError(NewIntegrityError("p", "md5")))
	assert.True(t, IsConfigError(NewConfigError("bad")))
	assert.True(t, IsNotFoundError(NewNotFoundError("p")))
	assert.True(t, IsLockContentionError(NewLockContentionError("p")))

	plain := errors.New("not a StoreError")
	assert.False(t, IsTransient(plain))
	assert.False(t, IsDataTransferError(plain))
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrIntegrity, CodeOf(NewIntegrityError("p", "md5")))
	assert.Equal(t, ErrorCode(0), CodeOf(errors.New("not a StoreError")))
	assert.Equal(t, ErrorCode(0), CodeOf(nil))
}
