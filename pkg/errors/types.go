// Package errors defines the coded errors every sidebar package returns.
// Callers branch on Code, never on message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorCode classifies an error for callers and observers.
type ErrorCode string

const (
	// Reported to the host through the error observer.
	ErrCodeItemFetch     ErrorCode = "ITEM_FETCH"
	ErrCodeMetadataFetch ErrorCode = "METADATA_FETCH"

	// Returned by transport clients.
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimited    ErrorCode = "RATE_LIMITED"
	ErrCodeTransport      ErrorCode = "TRANSPORT"
	ErrCodeDecode         ErrorCode = "DECODE"
	ErrCodeClientReleased ErrorCode = "CLIENT_RELEASED"

	// Orchestrator lifecycle misuse.
	ErrCodeAlreadyMounted ErrorCode = "ALREADY_MOUNTED"
	ErrCodeNotMounted     ErrorCode = "NOT_MOUNTED"

	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	ErrCodeCache ErrorCode = "CACHE"

	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// Error is a coded error with optional cause, context and call site.
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Stack      []Frame
	Retryable  bool
	// StatusCode is the HTTP status that produced the error, if any.
	StatusCode int
}

// Frame is one captured call site.
type Frame struct {
	Function string
	File     string
	Line     int
}

// stackDepth bounds captured frames; deeper frames are runtime noise.
const stackDepth = 32

func build(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Underlying: cause,
		Context:    make(map[string]any),
		// Skip build, the exported constructor and captureStack itself.
		Stack: captureStack(3),
	}
}

// New returns an error with the given code.
func New(code ErrorCode, message string) *Error {
	return build(code, message, nil)
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches a code and message to err. Wrap(nil, ...) is nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return build(code, message, err)
}

// WithContext records a key/value shown in Error() and logs.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStatus records the HTTP status code behind the error.
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

// Error renders "[CODE] message {k: v, ...}: cause" with context keys sorted.
func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s: %v", k, e.Context[k])
		}
		fmt.Fprintf(&sb, " {%s}", strings.Join(pairs, ", "))
	}

	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches another *Error by code, so errors.Is(err, New(code, ""))
// works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code != "" && t.Code == e.Code
}

func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// StackTrace formats the captured frames, innermost first.
func (e *Error) StackTrace() string {
	var sb strings.Builder
	sb.WriteString("Stack trace:\n")
	for i, f := range e.Stack {
		fmt.Fprintf(&sb, "  %d. %s\n     %s:%d\n", i+1, f.Function, f.File, f.Line)
	}
	return sb.String()
}

func (f Frame) String() string {
	return f.Function
}

// captureStack records the stack above its caller, dropping skip frames.
// skip 0 starts at the function calling captureStack.
func captureStack(skip int) []Frame {
	pcs := make([]uintptr, stackDepth)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}

	frames := make([]Frame, 0, n)
	iter := runtime.CallersFrames(pcs[:n])
	for {
		f, more := iter.Next()
		if f.Function != "" {
			frames = append(frames, Frame{Function: f.Function, File: f.File, Line: f.Line})
		}
		if !more {
			break
		}
	}
	return frames
}

// As finds the outermost structured error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stderrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// IsCode reports whether the outermost structured error in err's chain
// has code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// GetCode returns err's code, ErrCodeInternal for plain errors and "" for nil.
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a structured error marked retryable.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}
