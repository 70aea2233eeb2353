package channels

import (
	"errors"
	"testing"
)

func TestError_ErrorMessageFormatting(t *testing.T) {
	err := NewError(ErrCodeConnection, "dial failed", errors.New("refused"))
	if got := err.Error(); got != "[CONNECTION_ERROR] dial failed: refused" {
		t.Fatalf("unexpected message: %q", got)
	}

	bare := NewError(ErrCodeNotFound, "missing", nil)
	if got := bare.Error(); got != "[NOT_FOUND] missing" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(ErrCodeInternal, "wrapped", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to see through to the wrapped cause")
	}
}

func TestError_WithContext(t *testing.T) {
	err := NewError(ErrCodeInvalidInput, "bad field", nil).WithContext("field", "email")
	if err.Context["field"] != "email" {
		t.Fatalf("expected context to carry the field key, got %+v", err.Context)
	}
}

func TestError_IsRetryable(t *testing.T) {
	retryable := []ErrorCode{ErrCodeRateLimit, ErrCodeTimeout, ErrCodeUnavailable, ErrCodeConnection}
	for _, code := range retryable {
		if !(&Error{Code: code}).IsRetryable() {
			t.Fatalf("expected %v to be retryable", code)
		}
	}

	notRetryable := []ErrorCode{ErrCodeAuthentication, ErrCodeInvalidInput, ErrCodeNotFound, ErrCodeInternal, ErrCodeConfig}
	for _, code := range notRetryable {
		if (&Error{Code: code}).IsRetryable() {
			t.Fatalf("expected %v not to be retryable", code)
		}
	}
}

func TestErrorConstructors_AssignExpectedCodes(t *testing.T) {
	cases := []struct {
		err  *Error
		code ErrorCode
	}{
		{ErrConnection("x", nil), ErrCodeConnection},
		{ErrAuthentication("x", nil), ErrCodeAuthentication},
		{ErrRateLimit("x", nil), ErrCodeRateLimit},
		{ErrInvalidInput("x", nil), ErrCodeInvalidInput},
		{ErrNotFound("x", nil), ErrCodeNotFound},
		{ErrTimeout("x", nil), ErrCodeTimeout},
		{ErrInternal("x", nil), ErrCodeInternal},
		{ErrUnavailable("x", nil), ErrCodeUnavailable},
		{ErrConfig("x", nil), ErrCodeConfig},
	}
	for _, tc := range cases {
		if tc.err.Code != tc.code {
			t.Fatalf("expected code %v, got %v", tc.code, tc.err.Code)
		}
	}
}

func TestGetErrorCode(t *testing.T) {
	if GetErrorCode(ErrRateLimit("x", nil)) != ErrCodeRateLimit {
		t.Fatalf("expected the channel error's own code")
	}
	if GetErrorCode(errors.New("plain")) != ErrCodeInternal {
		t.Fatalf("expected ErrCodeInternal for a non-channel error")
	}
}

func TestIsRetryable_Function(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("expected nil to not be retryable")
	}
	if !IsRetryable(ErrConnection("x", nil)) {
		t.Fatalf("expected a connection error to be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("expected a plain error to not be retryable")
	}
}
