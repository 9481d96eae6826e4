package poolerr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKind(t *testing.T) {
	err := Wrap(OpenFailure, fs.ErrNotExist, "open /x", map[string]any{"path": "/x"})

	assert.True(t, errors.Is(err, OpenFailure))
	assert.False(t, errors.Is(err, NotFound))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, "open failure: open /x: file does not exist", err.Error())
}

func TestErrorMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("reading line: %w", New(StaleHandle, "handle 3 destroyed"))

	assert.True(t, errors.Is(err, StaleHandle))
	assert.Equal(t, StaleHandle, KindOf(err))

	var pe *Error
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "handle 3 destroyed", pe.Message)
}

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: 0},
		{name: "plain", err: errors.New("boom"), want: 0},
		{name: "not found", err: New(NotFound, "h"), want: NotFound},
		{name: "wrapped open failure", err: fmt.Errorf("x: %w", Wrap(OpenFailure, fs.ErrPermission, "p", nil)), want: OpenFailure},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "open failure", OpenFailure.String())
	assert.Equal(t, "stale handle", StaleHandle.String())
	assert.Equal(t, "not found", NotFound.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
