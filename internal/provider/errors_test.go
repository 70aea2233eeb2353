package provider

import (
	"errors"
	"testing"
)

func TestClassifyError(t *testing.T) {
	cases := map[string]FailoverReason{
		"request timeout":       FailoverTimeout,
		"429 too many requests": FailoverRateLimit,
		"401 unauthorized":      FailoverAuth,
		"insufficient quota":    FailoverBilling,
		"502 bad gateway":       FailoverServerError,
		"totally unrelated":     FailoverUnknown,
	}
	for msg, want := range cases {
		if got := ClassifyError(errors.New(msg)); got != want {
			t.Errorf("ClassifyError(%q) = %s, want %s", msg, got, want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	err := NewError("anthropic", "claude", errors.New("rate_limit_error")).WithStatus(429)
	if !IsRetryable(err) {
		t.Fatal("expected 429 to be retryable")
	}
	err2 := NewError("anthropic", "claude", errors.New("bad request")).WithStatus(400)
	if IsRetryable(err2) {
		t.Fatal("expected 400 not to be retryable")
	}
}
