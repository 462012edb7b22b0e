package codes

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, Unknown, CodeOf(errors.New("plain")))
	assert.Equal(t, NotFound, CodeOf(New(NotFound, "missing")))

	wrapped := fmt.Errorf("context: %w", New(Unavailable, "backend down"))
	assert.Equal(t, Unavailable, CodeOf(wrapped), "codes survive fmt.Errorf wrapping")
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(Internal, nil))

	inner := errors.New("boom")
	err := Wrap(Internal, inner)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t, "internal: boom", err.Error())
}

func TestIsPermanent(t *testing.T) {
	transient := []Code{Cancelled, Unknown, DeadlineExceeded, ResourceExhausted, Internal, Unavailable, Unauthenticated}
	for _, c := range transient {
		assert.False(t, c.IsPermanent(), string(c))
	}
	permanent := []Code{InvalidArgument, NotFound, AlreadyExists, PermissionDenied, FailedPrecondition, Aborted, Unimplemented, DataLoss}
	for _, c := range permanent {
		assert.True(t, c.IsPermanent(), string(c))
	}
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, Unauthenticated.IsAuthError())
	assert.True(t, PermissionDenied.IsAuthError())
	assert.False(t, Unavailable.IsAuthError())
}

func TestIsCode(t *testing.T) {
	assert.True(t, IsCode(Errorf(Aborted, "batch %d", 7), Aborted))
	assert.False(t, IsCode(nil, Aborted))
}
