package api

import (
	"encoding/json"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/lei/ghe-policy-check/internal/github"
	"github.com/lei/ghe-policy-check/internal/store"
	"github.com/lei/ghe-policy-check/internal/webhook"
)

// Text codes carried by error responses
const (
	TextCodeBadInput         = "BAD_INPUT"
	TextCodeUnauthorized     = "UNAUTHORIZED"
	TextCodePermissionDenied = "PERMISSION_DENIED"
	TextCodeNotFound         = "NOT_FOUND"
	TextCodeUnhandledEvent   = "UNHANDLED_EVENT"
	TextCodeNotSupported     = "OPERATION_NOT_SUPPORTED"
	TextCodeUpstream         = "UPSTREAM_FAILED"
	TextCodeInternal         = "INTERNAL"
)

func apiError(message string, category goerrors.Category, code int, textCode string) *goerrors.Error {
	return goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
}

func badRequest(message string) *goerrors.Error {
	return apiError(message, goerrors.CategoryBadInput, http.StatusBadRequest, TextCodeBadInput)
}

func unauthorized(message string) *goerrors.Error {
	return apiError(message, goerrors.CategoryAuth, http.StatusUnauthorized, TextCodeUnauthorized)
}

// webhookError maps a dispatch failure to the response GitHub receives.
// Unhandled deliveries are acknowledged with 204 so GitHub does not retry.
func webhookError(err error) *goerrors.Error {
	switch {
	case errors.Is(err, webhook.ErrUnhandledEvent), errors.Is(err, webhook.ErrUnhandledAction):
		return apiError("Unhandled event.", goerrors.CategoryNotFound, http.StatusNoContent, TextCodeUnhandledEvent)
	case errors.Is(err, webhook.ErrInvalidSignature):
		return apiError("Permission denied.", goerrors.CategoryAuthz, http.StatusForbidden, TextCodePermissionDenied)
	case errors.Is(err, webhook.ErrOperationNotSupported):
		return apiError("Operation not supported.", goerrors.CategoryBadInput, http.StatusNotImplemented, TextCodeNotSupported)
	default:
		return apiError("Failed to handle event.", goerrors.CategoryInternal, http.StatusInternalServerError, TextCodeInternal)
	}
}

// serviceError maps a policy failure on the /v1 API to a response
func serviceError(err error) *goerrors.Error {
	var apiErr *github.APIError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apiError("repository not mirrored", goerrors.CategoryNotFound, http.StatusNotFound, TextCodeNotFound)
	case errors.Is(err, github.ErrNotFound):
		return apiError("repository not accessible on github", goerrors.CategoryNotFound, http.StatusNotFound, TextCodeNotFound)
	case errors.As(err, &apiErr):
		return apiError("github request failed", goerrors.CategoryExternal, http.StatusBadGateway, TextCodeUpstream)
	default:
		return apiError("internal server error", goerrors.CategoryInternal, http.StatusInternalServerError, TextCodeInternal)
	}
}

// respondError writes a JSON error response with logging
func respondError(w http.ResponseWriter, r *http.Request, envelope *goerrors.Error) {
	logger := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	if logger != nil {
		logger.Warn("returning error response",
			"status", envelope.Code,
			"text_code", envelope.TextCode,
			"message", envelope.Message)
	}

	if envelope.Code == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(envelope.Code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message":    envelope.Message,
			"code":       envelope.Code,
			"text_code":  envelope.TextCode,
			"request_id": requestID,
		},
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
