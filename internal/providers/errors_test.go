package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
)

func TestClassifyPatterns(t *testing.T) {
	tests := []struct {
		err  error
		want FailureReason
	}{
		{errors.New("429 Too Many Requests"), ReasonRateLimit},
		{errors.New("request throttled by upstream"), ReasonRateLimit},
		{errors.New("invalid api key provided"), ReasonAuth},
		{errors.New("insufficient_quota: billing hard limit reached"), ReasonBilling},
		{errors.New("model not found: gpt-99"), ReasonModelUnavailable},
		{errors.New("response blocked by content filter"), ReasonContentFilter},
		{errors.New("503 Service Unavailable"), ReasonServerError},
		{errors.New("validation failed on field messages"), ReasonInvalidRequest},
		{errors.New("something inexplicable"), ReasonUnknown},
	}
	for _, tt := range tests {
		pe := Classify("openai", tt.err)
		if pe.Reason != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.err, pe.Reason, tt.want)
		}
		if pe.Provider != "openai" {
			t.Errorf("provider = %q", pe.Provider)
		}
		if !errors.Is(pe, tt.err) {
			t.Errorf("Classify(%q) does not wrap the original error", tt.err)
		}
	}
}

func TestClassifyDeadline(t *testing.T) {
	err := fmt.Errorf("converse: %w", context.DeadlineExceeded)
	if pe := Classify("bedrock", err); pe.Reason != ReasonTimeout {
		t.Errorf("reason = %q, want timeout", pe.Reason)
	}
}

type fakeAPIError struct{ code string }

func (e *fakeAPIError) Error() string                 { return e.code }
func (e *fakeAPIError) ErrorCode() string             { return e.code }
func (e *fakeAPIError) ErrorMessage() string          { return e.code }
func (e *fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		code string
		want FailureReason
	}{
		{"ThrottlingException", ReasonRateLimit},
		{"AccessDeniedException", ReasonAuth},
		{"ValidationException", ReasonInvalidRequest},
		{"ResourceNotFoundException", ReasonModelUnavailable},
		{"ServiceUnavailableException", ReasonServerError},
	}
	for _, tt := range tests {
		pe := Classify("bedrock", fmt.Errorf("invoke: %w", &fakeAPIError{code: tt.code}))
		if pe.Reason != tt.want {
			t.Errorf("Classify(%s) = %q, want %q", tt.code, pe.Reason, tt.want)
		}
	}
}

func TestClassifyPassThrough(t *testing.T) {
	orig := &ProviderError{Provider: "gemini", Reason: ReasonRateLimit, Err: errors.New("x")}
	if pe := Classify("other", fmt.Errorf("wrapped: %w", orig)); pe != orig {
		t.Error("existing ProviderError should pass through unchanged")
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []FailureReason{ReasonRateLimit, ReasonTimeout, ReasonServerError}
	for _, r := range retryable {
		pe := &ProviderError{Reason: r}
		if !pe.IsRetryable() {
			t.Errorf("%q should be retryable", r)
		}
	}
	for _, r := range []FailureReason{ReasonAuth, ReasonBilling, ReasonInvalidRequest, ReasonUnknown} {
		pe := &ProviderError{Reason: r}
		if pe.IsRetryable() {
			t.Errorf("%q should not be retryable", r)
		}
	}
}
