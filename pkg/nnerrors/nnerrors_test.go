package nnerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsSentinel(t *testing.T) {
	err := BadDataf("shape mismatch at operand %d", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBadData))
	assert.False(t, errors.Is(err, ErrOpFailed))
}

func TestErrorWrapped(t *testing.T) {
	inner := BadDataf("bad op kind")
	wrapped := fmt.Errorf("finish: %w", inner)
	assert.True(t, errors.Is(wrapped, ErrBadData))
	assert.Equal(t, BadData, KindOf(wrapped))
}

func TestKindOfDefaults(t *testing.T) {
	assert.Equal(t, NoError, KindOf(nil))
	assert.Equal(t, OpFailed, KindOf(errors.New("driver exploded")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "BadData", BadData.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
