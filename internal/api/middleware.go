package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lei/ghe-policy-check/internal/config"
	"github.com/lei/ghe-policy-check/pkg/logger"
)

// AuthMiddleware guards the /v1 operator API with static API keys
type AuthMiddleware struct {
	keys []config.APIKey
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(keys []config.APIKey) *AuthMiddleware {
	configured := make([]config.APIKey, 0, len(keys))
	for _, k := range keys {
		// An unset ${API_KEY} expands to an empty key, which must never match
		if k.Key != "" {
			configured = append(configured, k)
		}
	}
	return &AuthMiddleware{keys: configured}
}

// lookup returns the name of the key matching token
func (m *AuthMiddleware) lookup(token string) (string, bool) {
	for _, k := range m.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(token)) == 1 {
			return k.Name, true
		}
	}
	return "", false
}

// Authenticate requires "Authorization: Bearer <api key>"
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context(), logger.Discard())

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			log.Warn("api: rejected request without bearer token")
			respondError(w, r, unauthorized("expected 'Authorization: Bearer <api key>'"))
			return
		}

		name, ok := m.lookup(token)
		if !ok {
			log.Warn("api: rejected unknown api key")
			respondError(w, r, unauthorized("invalid api key"))
			return
		}

		// Later log lines carry the caller's key name
		log = log.With("api_key", name)
		log.Debug("api: authenticated")
		next.ServeHTTP(w, r.WithContext(logger.NewContext(r.Context(), log)))
	})
}

// LoggingMiddleware puts a request-scoped logger into the context and logs
// one line per completed request.
type LoggingMiddleware struct {
	logger *logger.Logger
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger *logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Handler wraps next with request logging
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = "unknown"
		}

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
		}
		// GitHub deliveries are traced by their own ids
		if event := r.Header.Get("X-GitHub-Event"); event != "" {
			attrs = append(attrs, "event", event)
		}
		if delivery := r.Header.Get("X-GitHub-Delivery"); delivery != "" {
			attrs = append(attrs, "delivery_id", delivery)
		}
		reqLogger := m.logger.With(attrs...)

		ctx := logger.NewContext(r.Context(), reqLogger)
		ctx = context.WithValue(ctx, contextKeyRequestID, requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reqLogger.Log(r.Context(), completionLevel(status), "api: request completed",
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes_written", ww.BytesWritten())
		}()

		next.ServeHTTP(ww, r.WithContext(ctx))
	})
}

func completionLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
