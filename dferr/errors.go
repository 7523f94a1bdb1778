// Package dferr defines the error taxonomy shared by every dfbridge layer.
//
// All failures surfaced by the facade, the expression builder, the
// compatibility shim and the backend adapters are *Error values carrying one
// of five codes. Callers branch on the code with the IsX helpers, which use
// errors.As and therefore see through fmt.Errorf wrapping.
package dferr

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes an Error.
type Code string

const (
	// CodeMalformedExpression indicates a structurally invalid expression or
	// plan step: wrong arity, nested aggregation, missing column, empty name.
	CodeMalformedExpression Code = "MALFORMED_EXPRESSION"

	// CodeUnrecognizedBackend indicates that no registered adapter (or more
	// than one) claims a native object or backend tag.
	CodeUnrecognizedBackend Code = "UNRECOGNIZED_BACKEND"

	// CodeUnsupportedOperation indicates that a backend at its installed
	// version cannot execute a node or step, natively or via fallback.
	CodeUnsupportedOperation Code = "UNSUPPORTED_OPERATION"

	// CodeDtypeCoercion indicates that no dtype promotion rule applies, or a
	// dtype has no representation on the target backend.
	CodeDtypeCoercion Code = "DTYPE_COERCION"

	// CodeNativeExecution wraps a failure raised by the native engine.
	CodeNativeExecution Code = "NATIVE_EXECUTION"
)

// Error is the single error type returned across the dfbridge API.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Backend is the backend tag involved, if any.
	Backend string

	// Node names the IR node kind or plan step being lowered, if any.
	Node string

	// Feature names the compatibility feature that was unavailable.
	Feature string

	// Cause is the underlying native error for CodeNativeExecution.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)

	var attrs []string
	if e.Backend != "" {
		attrs = append(attrs, "backend="+e.Backend)
	}
	if e.Feature != "" {
		attrs = append(attrs, "feature="+e.Feature)
	}
	if e.Node != "" {
		attrs = append(attrs, "node="+e.Node)
	}
	if len(attrs) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(attrs, ", "))
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the native cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Malformed creates a CodeMalformedExpression error.
func Malformed(format string, args ...any) *Error {
	return &Error{Code: CodeMalformedExpression, Message: fmt.Sprintf(format, args...)}
}

// Unrecognized creates a CodeUnrecognizedBackend error.
func Unrecognized(format string, args ...any) *Error {
	return &Error{Code: CodeUnrecognizedBackend, Message: fmt.Sprintf(format, args...)}
}

// Unsupported creates a CodeUnsupportedOperation error naming the backend
// and the feature that is unavailable.
func Unsupported(backend, feature, format string, args ...any) *Error {
	return &Error{
		Code:    CodeUnsupportedOperation,
		Message: fmt.Sprintf(format, args...),
		Backend: backend,
		Feature: feature,
	}
}

// Coercion creates a CodeDtypeCoercion error.
func Coercion(format string, args ...any) *Error {
	return &Error{Code: CodeDtypeCoercion, Message: fmt.Sprintf(format, args...)}
}

// Native wraps a native engine failure. A cause that already is an *Error is
// annotated instead of being wrapped a second time.
func Native(backend, node string, cause error) *Error {
	var de *Error
	if errors.As(cause, &de) {
		return annotate(de, backend, node)
	}
	return &Error{
		Code:    CodeNativeExecution,
		Message: "native execution failed",
		Backend: backend,
		Node:    node,
		Cause:   cause,
	}
}

// WithContext fills in the backend and node of err when they are unset.
// Errors that are not *Error are wrapped as native execution failures.
func WithContext(err error, backend, node string) error {
	if err == nil {
		return nil
	}
	return Native(backend, node, err)
}

func annotate(e *Error, backend, node string) *Error {
	if e.Backend != "" && e.Node != "" {
		return e
	}
	c := *e
	if c.Backend == "" {
		c.Backend = backend
	}
	if c.Node == "" {
		c.Node = node
	}
	return &c
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsMalformed reports whether err is a malformed expression error.
func IsMalformed(err error) bool {
	return CodeOf(err) == CodeMalformedExpression
}

// IsUnrecognized reports whether err is an unrecognized backend error.
func IsUnrecognized(err error) bool {
	return CodeOf(err) == CodeUnrecognizedBackend
}

// IsUnsupported reports whether err is an unsupported operation error.
func IsUnsupported(err error) bool {
	return CodeOf(err) == CodeUnsupportedOperation
}

// IsCoercion reports whether err is a dtype coercion error.
func IsCoercion(err error) bool {
	return CodeOf(err) == CodeDtypeCoercion
}

// IsNative reports whether err wraps a native engine failure.
func IsNative(err error) bool {
	return CodeOf(err) == CodeNativeExecution
}
