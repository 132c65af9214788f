package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// FailureReason classifies a provider error for retry and reporting
// decisions.
type FailureReason string

const (
	ReasonBilling          FailureReason = "billing"
	ReasonRateLimit        FailureReason = "rate_limit"
	ReasonAuth             FailureReason = "auth"
	ReasonTimeout          FailureReason = "timeout"
	ReasonServerError      FailureReason = "server_error"
	ReasonInvalidRequest   FailureReason = "invalid_request"
	ReasonModelUnavailable FailureReason = "model_unavailable"
	ReasonContentFilter    FailureReason = "content_filter"
	ReasonUnknown          FailureReason = "unknown"
)

// ProviderError wraps a provider failure with its classified reason.
type ProviderError struct {
	Provider   string
	Reason     FailureReason
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether retrying the same provider may help.
func (e *ProviderError) IsRetryable() bool {
	switch e.Reason {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	}
	return false
}

var reasonPatterns = []struct {
	reason   FailureReason
	patterns []string
}{
	{ReasonBilling, []string{"billing", "quota exceeded", "insufficient_quota", "payment"}},
	{ReasonRateLimit, []string{"rate limit", "rate_limit", "too many requests", "throttl", "429"}},
	{ReasonAuth, []string{"unauthorized", "invalid api key", "invalid x-api-key", "authentication", "access denied", "forbidden", "401", "403"}},
	{ReasonTimeout, []string{"timeout", "timed out", "deadline exceeded", "context canceled"}},
	{ReasonModelUnavailable, []string{"model not found", "does not exist", "model_not_found", "unsupported model", "not supported"}},
	{ReasonContentFilter, []string{"content filter", "content_filter", "safety", "blocked by"}},
	{ReasonServerError, []string{"internal server error", "internal error", "service unavailable", "overloaded", "500", "502", "503", "529"}},
	{ReasonInvalidRequest, []string{"invalid request", "invalid_request", "validation", "bad request", "400"}},
}

// Classify wraps err as a ProviderError, inferring the reason from the
// error chain. An existing ProviderError passes through unchanged.
func Classify(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	reason := ReasonUnknown
	status := 0

	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}

	var apiErr smithy.APIError
	if reason == ReasonUnknown && errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			reason = ReasonRateLimit
		case "AccessDeniedException", "UnrecognizedClientException":
			reason = ReasonAuth
		case "ValidationException":
			reason = ReasonInvalidRequest
		case "ResourceNotFoundException", "ModelNotReadyException":
			reason = ReasonModelUnavailable
		case "ServiceUnavailableException", "InternalServerException", "ModelErrorException":
			reason = ReasonServerError
		}
	}

	if reason == ReasonUnknown {
		msg := strings.ToLower(err.Error())
		for _, rp := range reasonPatterns {
			for _, p := range rp.patterns {
				if strings.Contains(msg, p) {
					reason = rp.reason
					break
				}
			}
			if reason != ReasonUnknown {
				break
			}
		}
	}

	return &ProviderError{Provider: provider, Reason: reason, StatusCode: status, Err: err}
}
