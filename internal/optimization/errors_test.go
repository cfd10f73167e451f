package optimization

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  NewError("objective function is required"),
			want: "objective function is required",
		},
		{
			name: "formatted with component and operation",
			err:  NewErrorf("dimension must be at least 1, got %d", 0).WithComponent("simplex").WithOperation("new"),
			want: "simplex: new: dimension must be at least 1, got 0",
		},
		{
			name: "component only",
			err:  NewError("bad request").WithComponent("server"),
			want: "server: bad request",
		},
		{
			name: "wrapped",
			err:  WrapError(io.ErrUnexpectedEOF, "invalid parameter format"),
			want: "invalid parameter format: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	err := WrapError(io.ErrClosedPipe, "flushing")
	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, io.ErrClosedPipe))
}

func TestIsOptimizationError(t *testing.T) {
	optErr := NewError("nope").WithComponent("server")
	got, ok := IsOptimizationError(optErr)
	assert.True(t, ok)
	assert.Same(t, optErr, got)

	got, ok = IsOptimizationError(io.EOF)
	assert.False(t, ok)
	assert.Nil(t, got)
}
