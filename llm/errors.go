package llm

import (
	"context"
	"errors"
	"net"
)

// ErrorCode aligns provider failures with HTTP status and retry policy.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "LLM_INVALID_REQUEST"    // malformed parameters
	ErrUnauthorized      ErrorCode = "LLM_UNAUTHORIZED"       // missing or invalid API key
	ErrRateLimited       ErrorCode = "LLM_RATE_LIMITED"       // upstream throttling (429)
	ErrQuotaExceeded     ErrorCode = "LLM_QUOTA_EXCEEDED"     // billing quota exhausted
	ErrContentFiltered   ErrorCode = "LLM_CONTENT_FILTERED"   // safety policy rejection
	ErrUpstreamTimeout   ErrorCode = "LLM_UPSTREAM_TIMEOUT"   // upstream deadline
	ErrUpstreamError     ErrorCode = "LLM_UPSTREAM_ERROR"     // upstream 5xx
	ErrNetwork           ErrorCode = "LLM_NETWORK"            // transport-level failure
	ErrMalformedResponse ErrorCode = "LLM_MALFORMED_RESPONSE" // output failed a local structural check
)

// Error is the typed failure every provider returns. Message is safe to show
// to the user; Code drives classification.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Classification buckets a failure for the retry controller.
type Classification string

const (
	ClassRateLimited        Classification = "rate_limited"
	ClassServiceUnavailable Classification = "service_unavailable"
	ClassNetworkFailure     Classification = "network_failure"
	ClassInvalidCredentials Classification = "invalid_credentials"
	ClassUnclassified       Classification = "unclassified"
)

// Classify buckets an arbitrary error. Credential failures are the only
// bucket the retry controller refuses to retry; everything else, including
// unclassified errors, is treated as possibly transient.
func Classify(err error) Classification {
	if err == nil {
		return ClassUnclassified
	}

	var lerr *Error
	if errors.As(err, &lerr) {
		switch lerr.Code {
		case ErrRateLimited, ErrQuotaExceeded:
			return ClassRateLimited
		case ErrUpstreamError, ErrUpstreamTimeout:
			return ClassServiceUnavailable
		case ErrNetwork:
			return ClassNetworkFailure
		case ErrUnauthorized:
			return ClassInvalidCredentials
		default:
			return ClassUnclassified
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetworkFailure
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return ClassNetworkFailure
	}

	return ClassUnclassified
}

// IsRetryable reports whether the retry controller may re-issue the call.
// Locally detected malformed output is excluded as well: re-sending the same
// prompt cannot fix it, repair belongs to the agent loop.
func IsRetryable(err error) bool {
	var lerr *Error
	if errors.As(err, &lerr) && lerr.Code == ErrMalformedResponse {
		return false
	}
	return Classify(err) != ClassInvalidCredentials
}

// IsCredentialError reports whether the user has to re-authenticate.
func IsCredentialError(err error) bool {
	return Classify(err) == ClassInvalidCredentials
}

// NewMalformedResponseError wraps a failed structural check on model output.
func NewMalformedResponseError(provider, message string) *Error {
	return &Error{
		Code:      ErrMalformedResponse,
		Message:   message,
		Retryable: false,
		Provider:  provider,
	}
}
