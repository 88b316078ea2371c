package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	// ErrorTypeInput is malformed input handed to a transform: bad
	// stylesheet syntax, unparsable JSON, a broken template.
	ErrorTypeInput    ErrorType = "input"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeNetwork  ErrorType = "network"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// TaskError is a structured error raised by a build task.
type TaskError struct {
	Type     ErrorType
	Code     string
	Task     string
	Message  string
	Cause    error
	FilePath string
	Line     int
	Column   int
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Task != "" {
		parts = append(parts, "task:"+e.Task)
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is matches another TaskError with the same type and code.
func (e *TaskError) Is(target error) bool {
	var t *TaskError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithLocation adds file location information.
func (e *TaskError) WithLocation(filePath string, line, column int) *TaskError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithTask records which task raised the error.
func (e *TaskError) WithTask(task string) *TaskError {
	e.Task = task

	return e
}

// NewInputError creates an error for malformed transform input.
func NewInputError(code, message string, cause error) *TaskError {
	return &TaskError{Type: ErrorTypeInput, Code: code, Message: message, Cause: cause}
}

// NewIOError creates an error for missing or unreadable files.
func NewIOError(code, message string, cause error) *TaskError {
	return &TaskError{Type: ErrorTypeIO, Code: code, Message: message, Cause: cause}
}

// NewNetworkError creates an error for proxy and socket failures.
func NewNetworkError(code, message string, cause error) *TaskError {
	return &TaskError{Type: ErrorTypeNetwork, Code: code, Message: message, Cause: cause}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *TaskError {
	return &TaskError{Type: ErrorTypeConfig, Code: code, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *TaskError {
	return &TaskError{Type: ErrorTypeInternal, Code: code, Message: message, Cause: cause}
}

// TypeOf returns the ErrorType of the first TaskError in err's chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Type
	}
	return ErrorTypeInternal
}
