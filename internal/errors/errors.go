// Package errors provides contextual errors with stack traces for the
// AMOEBA optimization service.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error is an error with context and a stack trace captured at creation.
type Error struct {
	// Err is the underlying error, if any.
	Err error
	// Message is a human-readable description.
	Message string
	// Operation is what was being performed when the error occurred.
	Operation string
	// Component is the package or subsystem where it occurred.
	Component string
	// Stack is the captured stack trace.
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Operation != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString("operation=")
		b.WriteString(e.Operation)
	}
	if e.Component != "" {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString("component=")
		b.WriteString(e.Component)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation records the operation on the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent records the component on the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace returns the captured stack trace.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates an error with a message and captures the stack.
func New(msg string) *Error {
	return &Error{Message: msg, Stack: stackTrace()}
}

// Errorf creates an error with a formatted message and captures the stack.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Stack: stackTrace()}
}

// Wrap wraps err with a message. It returns nil when err is nil, so call
// sites can wrap unconditionally.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		if msg != "" {
			e.Message = msg
		}
		return e
	}
	return &Error{Err: err, Message: msg, Stack: stackTrace()}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// stackTrace captures the current stack, skipping runtime frames and this
// package's own constructors.
func stackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return stack
}
