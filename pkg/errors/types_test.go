package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeNotFound, "file f1 not found")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}

	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNotFound)
	}

	if err.Message != "file f1 not found" {
		t.Errorf("Message = %v, want 'file f1 not found'", err.Message)
	}

	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}

	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}

	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(ErrCodeTransport, "unexpected status %d", 502)
	if err.Message != "unexpected status 502" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("connection reset")
	err := Wrap(underlying, ErrCodeTransport, "get file")

	if err == nil {
		t.Fatal("Wrap should return non-nil error")
	}

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}

	if !strings.Contains(err.Error(), "connection reset") {
		t.Error("Error string should include underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Error("Wrap of nil should return nil")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeItemFetch, "fetch failed")
	err.WithContext("file_id", "f1")
	err.WithContext("status", 500)

	if err.Context["file_id"] != "f1" {
		t.Error("Context should contain 'file_id' key")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "file_id: f1, status: 500") {
		t.Errorf("Error string should include sorted context, got %q", errStr)
	}
}

func TestWithStatus(t *testing.T) {
	err := New(ErrCodeUnauthorized, "token rejected").WithStatus(401)
	if err.StatusCode != 401 {
		t.Errorf("StatusCode = %d, want 401", err.StatusCode)
	}
}

func TestUnwrap(t *testing.T) {
	underlying := errors.New("underlying")
	err := Wrap(underlying, ErrCodeInternal, "wrapped")

	if err.Unwrap() != underlying {
		t.Error("Unwrap should return underlying error")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should see through the structured error")
	}
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeRateLimited, "slow down")

	if !IsCode(err, ErrCodeRateLimited) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrCodeNotFound) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrCodeRateLimited) {
		t.Error("IsCode should return false for nil error")
	}
	if IsCode(errors.New("standard error"), ErrCodeInternal) {
		t.Error("IsCode should return false for plain errors")
	}
}

func TestGetCode(t *testing.T) {
	if code := GetCode(New(ErrCodeDecode, "bad json")); code != ErrCodeDecode {
		t.Errorf("GetCode = %v, want %v", code, ErrCodeDecode)
	}
	if GetCode(nil) != "" {
		t.Error("GetCode should return empty string for nil")
	}
	if GetCode(errors.New("standard")) != ErrCodeInternal {
		t.Error("GetCode should return ErrCodeInternal for plain errors")
	}
}

func TestGetCode_Wrapped(t *testing.T) {
	inner := New(ErrCodeNotFound, "missing")
	outer := fmt.Errorf("sidebar: %w", inner)

	if GetCode(outer) != ErrCodeNotFound {
		t.Errorf("GetCode should find wrapped structured error, got %v", GetCode(outer))
	}
	if !IsCode(outer, ErrCodeNotFound) {
		t.Error("IsCode should find wrapped structured error")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("mount: %w", New(ErrCodeClientReleased, "client released"))

	if !errors.Is(err, New(ErrCodeClientReleased, "")) {
		t.Error("errors.Is should match a structured error with the same code")
	}
	if errors.Is(err, New(ErrCodeNotFound, "")) {
		t.Error("errors.Is should not match a different code")
	}
	if errors.Is(err, &Error{}) {
		t.Error("a target without a code should never match")
	}
}

func TestStackStartsAtCaller(t *testing.T) {
	err := New(ErrCodeInternal, "here")
	if len(err.Stack) == 0 || !strings.Contains(err.Stack[0].Function, "TestStackStartsAtCaller") {
		t.Fatalf("first frame should be the caller of New, got %+v", err.Stack)
	}
}

func TestIsRetryable_Function(t *testing.T) {
	retryable := New(ErrCodeRateLimited, "rate limited").WithRetryable(true)
	notRetryable := New(ErrCodeConfigInvalid, "bad config")

	if !IsRetryable(retryable) {
		t.Error("IsRetryable should return true for retryable error")
	}
	if IsRetryable(notRetryable) {
		t.Error("IsRetryable should return false for non-retryable error")
	}
	if IsRetryable(nil) {
		t.Error("IsRetryable should return false for nil")
	}
	if IsRetryable(errors.New("standard")) {
		t.Error("IsRetryable should return false for plain errors")
	}
}

func TestStackTrace(t *testing.T) {
	err := New(ErrCodeInternal, "test error")

	trace := err.StackTrace()
	if !strings.Contains(trace, "Stack trace:") {
		t.Error("StackTrace should contain header")
	}
	if len(err.Stack) == 0 {
		t.Error("Stack should have frames")
	}
}

func TestCaptureStack(t *testing.T) {
	frames := captureStack(0)

	found := false
	for _, frame := range frames {
		if strings.Contains(frame.Function, "TestCaptureStack") {
			found = true
			break
		}
	}
	if !found {
		t.Error("Stack should contain the calling test frame")
	}
}

func TestChaining(t *testing.T) {
	err := New(ErrCodeTransport, "server error").
		WithContext("file_id", "f9").
		WithStatus(503).
		WithRetryable(true)

	if err.Code != ErrCodeTransport {
		t.Error("Chaining should preserve code")
	}
	if len(err.Context) != 1 {
		t.Error("Chaining should add all context")
	}
	if !err.Retryable || err.StatusCode != 503 {
		t.Error("Chaining should set retryable and status")
	}
}
