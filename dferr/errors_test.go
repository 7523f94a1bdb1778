package dferr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := Unsupported("sqlite", "window.quantile", "quantile over a window")
	assert.Equal(t, "UNSUPPORTED_OPERATION: quantile over a window (backend=sqlite, feature=window.quantile)", err.Error())

	plain := Malformed("column name must not be empty")
	assert.Equal(t, "MALFORMED_EXPRESSION: column name must not be empty", plain.Error())
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"malformed", Malformed("bad"), IsMalformed},
		{"unrecognized", Unrecognized("unknown native %T", 1), IsUnrecognized},
		{"unsupported", Unsupported("gota", "is_nan", "no NaN"), IsUnsupported},
		{"coercion", Coercion("String + Int64"), IsCoercion},
		{"native", Native("arrow", "binary", errors.New("boom")), IsNative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("lowering: %w", tt.err)
			assert.True(t, tt.is(wrapped))
		})
	}
	assert.False(t, IsMalformed(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestNativeKeepsTypedCause(t *testing.T) {
	inner := Coercion("no supertype")
	err := Native("gota", "cast", fmt.Errorf("wrapped: %w", inner))

	assert.True(t, IsCoercion(err))
	assert.Equal(t, "gota", err.Backend)
	assert.Equal(t, "cast", err.Node)
	assert.Empty(t, inner.Backend, "original error must not be mutated")
}

func TestNativeWrapsForeignError(t *testing.T) {
	cause := errors.New("disk full")
	err := WithContext(cause, "sqlite", "filter")

	require.True(t, IsNative(err))
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, WithContext(nil, "sqlite", "filter"))
}
