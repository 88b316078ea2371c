package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *TaskError
		expected string
	}{
		{
			name:     "message only",
			err:      &TaskError{Message: "boom"},
			expected: "boom",
		},
		{
			name:     "code task and location",
			err:      NewInputError("SASS_SYNTAX", "expected \";\"", nil).WithTask("styles").WithLocation("src/sass/main.scss", 12, 4),
			expected: "[SASS_SYNTAX] task:styles src/sass/main.scss:12:4 expected \";\"",
		},
		{
			name:     "line without column",
			err:      NewIOError("READ", "cannot read", errors.New("permission denied")).WithLocation("a.json", 3, 0),
			expected: "[READ] a.json:3 cannot read: permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestTaskErrorUnwrapAndIs(t *testing.T) {
	cause := errors.New("no such file")
	err := NewIOError("READ_DATA", "reading page data", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, &TaskError{Type: ErrorTypeIO, Code: "READ_DATA"}))
	assert.False(t, errors.Is(err, &TaskError{Type: ErrorTypeInput, Code: "READ_DATA"}))
}

func TestTypeOf(t *testing.T) {
	wrapped := fmt.Errorf("templates: %w", NewInputError("JSON", "bad data", nil))

	assert.Equal(t, ErrorTypeInput, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(nil))
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	assert.False(t, c.HasFailures())

	c.Record("styles", NewInputError("SASS", "bad", nil).WithLocation("main.scss", 2, 1))
	c.Record("html", errors.New("render failed"))

	failures := c.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "html", failures[0].Task)
	assert.Equal(t, ErrorTypeInternal, failures[0].Type)
	assert.Equal(t, "styles", failures[1].Task)
	assert.Equal(t, "main.scss", failures[1].FilePath)
	assert.Equal(t, 2, failures[1].Line)

	c.Record("styles", nil)
	require.Len(t, c.Failures(), 1)

	c.Clear()
	assert.False(t, c.HasFailures())
}
