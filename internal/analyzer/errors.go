// Package analyzer drives the LLM-backed content analysis: page discovery,
// model invocation within a bounded budget, and classification of upstream
// failures into a small error taxonomy the API can act on.
package analyzer

import (
	"errors"
	"strings"
	"time"
)

// Error kinds. These are wire-stable values carried on audit runs and API
// responses, not Go type names.
const (
	KindValidation    = "validation"     // bad domain, bad status value - never retried
	KindRateLimited   = "rate_limited"   // domain or daily cap - carries structured limit data
	KindBotProtection = "bot_protection" // target site blocks automated access
	KindTimeout       = "timeout"        // collaborator exceeded its time budget
	KindQueuedTimeout = "queued_timeout" // job sat queued past the tier's poll budget
	KindNetworkError  = "network_error"  // transient connectivity failure (single manual retry ok)
	KindUpstreamError = "upstream_error" // unclassified collaborator failure
)

// AuditError is a classified failure with user-facing messaging.
type AuditError struct {
	// Original error, if any
	Err error

	// Kind is one of the Kind* constants
	Kind string

	// User-friendly message to display
	UserMessage string

	// Whether a caller-initiated retry is worthwhile
	Retryable bool

	// Structured limit data, set for rate_limited errors so the UI can
	// render exact reset timing without guessing
	Limit   int
	Used    int
	ResetAt time.Time
}

func (e *AuditError) Error() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "audit failed"
}

func (e *AuditError) Unwrap() error {
	return e.Err
}

// NewValidationError reports bad caller input.
func NewValidationError(message string) *AuditError {
	return &AuditError{Kind: KindValidation, UserMessage: message}
}

// NewRateLimitError reports a domain or daily cap rejection with the
// structured data the caller needs to render reset timing.
func NewRateLimitError(message string, limit, used int, resetAt time.Time) *AuditError {
	return &AuditError{
		Kind:        KindRateLimited,
		UserMessage: message,
		Limit:       limit,
		Used:        used,
		ResetAt:     resetAt,
	}
}

// NewQueuedTimeoutError reports a job that sat queued upstream past the
// tier's poll budget.
func NewQueuedTimeoutError(polls int) *AuditError {
	return &AuditError{
		Kind:        KindQueuedTimeout,
		UserMessage: "The analysis provider's queue is backed up and your audit could not start in time. Please try again later.",
		Retryable:   true,
		Used:        polls,
	}
}

// botProtectionPatterns match responses from sites that block automated access.
var botProtectionPatterns = []string{
	"cloudflare",
	"captcha",
	"access denied",
	"bot detected",
	"unusual traffic",
	"403 forbidden",
	"challenge",
}

var timeoutPatterns = []string{
	"timed out",
	"timeout",
	"deadline exceeded",
}

var rateLimitPatterns = []string{
	"rate limit",
	"ratelimit",
	"too many requests",
	"429",
	"overloaded",
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"unexpected eof",
	"tls handshake",
}

// Classify maps an upstream error to an AuditError by case-insensitive
// substring matching against known patterns. Heuristic by nature: anything
// unrecognized fails safe to upstream_error rather than being swallowed.
func Classify(err error) *AuditError {
	if err == nil {
		return nil
	}

	// Already classified
	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case matchesAny(errStr, botProtectionPatterns):
		return &AuditError{
			Err:         err,
			Kind:        KindBotProtection,
			UserMessage: "This site blocks automated access. Try allowlisting our crawler in your bot protection settings, then rerun the audit.",
			Retryable:   false,
		}
	case matchesAny(errStr, rateLimitPatterns):
		return &AuditError{
			Err:         err,
			Kind:        KindRateLimited,
			UserMessage: "The analysis provider is rate limiting requests. Please wait a moment and try again.",
			Retryable:   true,
		}
	case matchesAny(errStr, timeoutPatterns):
		return &AuditError{
			Err:         err,
			Kind:        KindTimeout,
			UserMessage: "The audit took too long and was cut off. Partial results may be available; rerun to pick up where it left off.",
			Retryable:   true,
		}
	case matchesAny(errStr, networkPatterns):
		return &AuditError{
			Err:         err,
			Kind:        KindNetworkError,
			UserMessage: "A network error interrupted the audit. This is usually transient; rerun the audit once.",
			Retryable:   true,
		}
	default:
		return &AuditError{
			Err:         err,
			Kind:        KindUpstreamError,
			UserMessage: "The audit failed unexpectedly. Please try again, and contact support if the problem persists.",
			Retryable:   true,
		}
	}
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// IsKind reports whether err is an AuditError of the given kind.
func IsKind(err error, kind string) bool {
	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr.Kind == kind
	}
	return false
}
