package handlers

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fortresshq/fortress-api/internal/analyzer"
)

// statusForKind maps classified audit error kinds to HTTP status codes.
func statusForKind(kind string) int {
	switch kind {
	case analyzer.KindValidation:
		return http.StatusUnprocessableEntity
	case analyzer.KindRateLimited:
		return http.StatusTooManyRequests
	case analyzer.KindTimeout, analyzer.KindQueuedTimeout:
		return http.StatusGatewayTimeout
	case analyzer.KindBotProtection, analyzer.KindNetworkError, analyzer.KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// humaError converts any error to a Huma status error. Classified audit
// errors keep their user message; everything else becomes an opaque 500.
func humaError(err error) error {
	var audErr *analyzer.AuditError
	if errors.As(err, &audErr) {
		return huma.NewError(statusForKind(audErr.Kind), audErr.UserMessage)
	}
	return huma.Error500InternalServerError("internal error")
}

func errNotFound(msg string) error {
	return huma.Error404NotFound(msg)
}

func errServiceUnavailable(msg string) error {
	return huma.NewError(http.StatusServiceUnavailable, msg)
}
