package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Messages GitHub returns for failures that need special handling
const (
	MessageAccountSuspended  = "Sorry. Your account was suspended."
	MessageRepositoryBlocked = "Repository access blocked"
	MessageBadCredentials    = "Bad credentials"
	messageRateLimit         = "rate limit"
)

var (
	// ErrConfiguration indicates a client was built without usable tokens
	ErrConfiguration = errors.New("github: at least one github token must be provided")

	// ErrInvalidImpersonation indicates an impersonating client tried to mint a token
	ErrInvalidImpersonation = errors.New("github: cannot create an impersonation token from an impersonated client")

	// ErrRateLimitExhausted indicates every token stayed rate limited past the retry cap
	ErrRateLimitExhausted = errors.New("github: rate limit retries failed")

	// ErrClient indicates GitHub rejected the request as unprocessable (422)
	ErrClient = errors.New("github: unprocessable request")

	// ErrNotFound indicates the resource does not exist or is not visible (404)
	ErrNotFound = errors.New("github: not found")

	// ErrAccountSuspended indicates the acting account is suspended
	ErrAccountSuspended = errors.New("github: account suspended")

	// ErrRepositoryBlocked indicates access to the repository is blocked
	ErrRepositoryBlocked = errors.New("github: repository access blocked")

	// ErrBadCredentials indicates the token was rejected
	ErrBadCredentials = errors.New("github: bad credentials")

	// ErrRateLimited indicates the active token hit its rate limit
	ErrRateLimited = errors.New("github: rate limited")

	// ErrUnexpectedStatus indicates a non-2xx response with no specific classification
	ErrUnexpectedStatus = errors.New("github: unexpected status")
)

// ErrorKind is the classification of a failed GitHub response
type ErrorKind int

const (
	KindUnclassified ErrorKind = iota
	KindClient
	KindNotFound
	KindAccountSuspended
	KindRepositoryBlocked
	KindBadCredentials
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindClient:
		return "client_error"
	case KindNotFound:
		return "not_found"
	case KindAccountSuspended:
		return "account_suspended"
	case KindRepositoryBlocked:
		return "repository_blocked"
	case KindBadCredentials:
		return "bad_credentials"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unclassified"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindClient:
		return ErrClient
	case KindNotFound:
		return ErrNotFound
	case KindAccountSuspended:
		return ErrAccountSuspended
	case KindRepositoryBlocked:
		return ErrRepositoryBlocked
	case KindBadCredentials:
		return ErrBadCredentials
	case KindRateLimited:
		return ErrRateLimited
	default:
		return ErrUnexpectedStatus
	}
}

// APIError is a classified non-2xx response from GitHub
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Method     string
	URL        string

	// Response is the failed response, kept so callers can inspect headers
	Response *Response
}

func (e *APIError) Error() string {
	target := strings.TrimSpace(e.Method + " " + e.URL)
	if e.Message != "" {
		return fmt.Sprintf("github: %s: %d %s: %s", target, e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("github: %s: %d %s", target, e.StatusCode, e.Kind)
}

// Is reports whether target is the sentinel for this error's kind
func (e *APIError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Classify maps a response status and body to an *APIError. It returns nil
// for 2xx statuses. Status checks take precedence over message checks, and
// message checks run in a fixed order where the first match wins.
func Classify(statusCode int, body []byte) *APIError {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	message := errorMessage(body)
	err := &APIError{
		StatusCode: statusCode,
		Message:    message,
	}

	switch {
	case statusCode == http.StatusUnprocessableEntity:
		err.Kind = KindClient
	case statusCode == http.StatusNotFound:
		err.Kind = KindNotFound
	case message == MessageAccountSuspended:
		err.Kind = KindAccountSuspended
	case message == MessageRepositoryBlocked:
		err.Kind = KindRepositoryBlocked
	case message == MessageBadCredentials:
		err.Kind = KindBadCredentials
	case strings.Contains(message, messageRateLimit):
		err.Kind = KindRateLimited
	default:
		err.Kind = KindUnclassified
	}
	return err
}

// classifyResponse classifies resp and stamps the request details onto the error
func classifyResponse(method, url string, resp *Response) error {
	apiErr := Classify(resp.StatusCode, resp.Body)
	if apiErr == nil {
		return nil
	}
	apiErr.Method = method
	apiErr.URL = url
	apiErr.Response = resp
	return apiErr
}

// errorMessage extracts the "message" field from a GitHub error body
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	return payload.Message
}
