package errors

import (
	stderrors "errors"
	"io"
	"strings"
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
			err:  New("something broke"),
			want: "something broke",
		},
		{
			name: "with operation and component",
			err:  New("something broke").WithOperation("load").WithComponent("config"),
			want: "something broke: operation=load, component=config",
		},
		{
			name: "wrapped",
			err:  Wrap(io.ErrUnexpectedEOF, "reading config file"),
			want: "reading config file: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf("bad value %d", 42)
	assert.Equal(t, "bad value 42", err.Error())
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))
	assert.Nil(t, Wrapf(nil, "ignored %d", 1))

	base := io.ErrClosedPipe
	err := Wrap(base, "flushing output")
	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, base))

	// Wrapping an Error again only updates the message, keeping the
	// original stack and cause.
	again := Wrap(err, "second attempt")
	assert.Same(t, err, again)
	assert.Equal(t, "second attempt", again.Message)
	assert.True(t, stderrors.Is(again, base))
}

func TestStackTrace(t *testing.T) {
	err := New("boom")

	stack := err.StackTrace()
	require.NotEmpty(t, stack)
	for _, frame := range stack {
		assert.False(t, strings.Contains(frame, "internal/errors"),
			"constructor frames must be skipped: %s", frame)
	}
}
