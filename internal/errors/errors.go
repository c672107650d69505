// internal/errors/errors.go
package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	SyntaxError       ErrorType = "SyntaxError"
	RuntimeError      ErrorType = "RuntimeError"
	TypeError         ErrorType = "TypeError"
	ReferenceError    ErrorType = "ReferenceError"
	ImportError       ErrorType = "ImportError"
	CompileError      ErrorType = "CompileError"
	StackOverflowError ErrorType = "StackOverflowError"
	NotClosureError   ErrorType = "NotClosureError"
)

// SourceLocation represents a location in source code
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

// SentraError represents an error with source location information
type SentraError struct {
	Type      ErrorType
	Message   string
	Location  SourceLocation
	CallStack []StackFrame
	Source    string // The source line where error occurred
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
	Column   int
}

// Error implements the error interface
func (e *SentraError) Error() string {
	var sb strings.Builder
	
	// Error type and message
	sb.WriteString(fmt.Sprintf("%s: %s\n", e.Type, e.Message))
	
	// Location information
	if e.Location.File != "" {
		sb.WriteString(fmt.Sprintf("  at %s:%d:%d\n", 
			e.Location.File, e.Location.Line, e.Location.Column))
		
		// Show source line if available
		if e.Source != "" {
			sb.WriteString(fmt.Sprintf("\n  %d | %s\n", e.Location.Line, e.Source))
			// Add error indicator
			sb.WriteString(fmt.Sprintf("  %s", strings.Repeat(" ", len(fmt.Sprintf("%d | ", e.Location.Line)))))
			if e.Location.Column > 0 {
				sb.WriteString(strings.Repeat(" ", e.Location.Column-1))
			}
			sb.WriteString("^\n")
		}
	}
	
	// Stack trace
	if len(e.CallStack) > 0 {
		sb.WriteString("\nCall Stack:\n")
		for _, frame := range e.CallStack {
			if frame.Function != "" {
				sb.WriteString(fmt.Sprintf("  at %s (%s:%d:%d)\n", 
					frame.Function, frame.File, frame.Line, frame.Column))
			} else {
				sb.WriteString(fmt.Sprintf("  at %s:%d:%d\n", 
					frame.File, frame.Line, frame.Column))
			}
		}
	}
	
	return sb.String()
}

// NewSyntaxError creates a new syntax error
func NewSyntaxError(message string, file string, line, column int) *SentraError {
	return &SentraError{
		Type:    SyntaxError,
		Message: message,
		Location: SourceLocation{
			File:   file,
			Line:   line,
			Column: column,
		},
	}
}

// NewRuntimeError creates a new runtime error
func NewRuntimeError(message string, file string, line, column int) *SentraError {
	return &SentraError{
		Type:    RuntimeError,
		Message: message,
		Location: SourceLocation{
			File:   file,
			Line:   line,
			Column: column,
		},
	}
}

// TypeErrorDetail carries the fields a runtime-entry type error needs
// beyond the generic message: the source and destination type names, the
// destination variable name (empty for instance-of checks, which never
// name a variable), and a bound-error message when the failure came from
// malbounded generic instantiation rather than a plain mismatch.
type TypeErrorDetail struct {
	SourceType string
	DestType   string
	DestName   string
	BoundMsg   string
}

// NewTypeError builds a TypeError carrying assignment-check diagnostics.
func NewTypeError(detail TypeErrorDetail, line int) *SentraError {
	msg := fmt.Sprintf("type '%s' is not a subtype of type '%s'", detail.SourceType, detail.DestType)
	if detail.DestName != "" {
		msg = fmt.Sprintf("%s of '%s'", msg, detail.DestName)
	}
	if detail.BoundMsg != "" {
		msg = fmt.Sprintf("%s (%s)", msg, detail.BoundMsg)
	}
	return &SentraError{
		Type:    TypeError,
		Message: msg,
		Location: SourceLocation{
			Line: line,
		},
	}
}

// NewStackOverflowError builds a stack overflow error. Callers on the
// hot overflow path should preallocate one instance and reuse it rather
// than calling this on every overflow check.
func NewStackOverflowError() *SentraError {
	return &SentraError{
		Type:    StackOverflowError,
		Message: "stack overflow",
	}
}

// NewNotClosureError reports an attempt to call a non-callable value.
func NewNotClosureError(valueType string) *SentraError {
	return &SentraError{
		Type:    NotClosureError,
		Message: fmt.Sprintf("'%s' is not callable", valueType),
	}
}

// WithSource adds source code context to the error
func (e *SentraError) WithSource(source string) *SentraError {
	e.Source = source
	return e
}

// WithStack adds a call stack to the error
func (e *SentraError) WithStack(stack []StackFrame) *SentraError {
	e.CallStack = stack
	return e
}

// AddStackFrame adds a single stack frame
func (e *SentraError) AddStackFrame(function, file string, line, column int) *SentraError {
	e.CallStack = append(e.CallStack, StackFrame{
		Function: function,
		File:     file,
		Line:     line,
		Column:   column,
	})
	return e
}