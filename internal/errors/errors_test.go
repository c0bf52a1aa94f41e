package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(New("original"), "step %d", 3)
	assert.Equal(t, "step 3: original", wrapped.Error())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(Wrap(ErrNotFound, "run abc")))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", ErrNotFound)))
	assert.False(t, IsNotFound(New("missing")))
	assert.False(t, IsNotFound(nil))
}

func TestIsInvalidRequest(t *testing.T) {
	assert.True(t, IsInvalidRequest(Wrap(ErrInvalidRequest, "missing name")))
	assert.False(t, IsInvalidRequest(ErrNotFound))
}

func TestWithHint(t *testing.T) {
	err := WithHint(New("boom"), "try again")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.Equal(t, []string{"try again"}, GetAllHints(err))
}

func TestGetStack(t *testing.T) {
	err := Wrap(New("base"), "outer")
	assert.NotNil(t, GetStack(err))
}

func TestMark(t *testing.T) {
	category := New("bad input")
	err := Mark(Wrap(New("no such file"), "read job"), category)
	assert.True(t, Is(err, category))
	assert.Equal(t, "read job: no such file", err.Error())
}
