package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lei/ghe-policy-check/internal/config"
	"github.com/lei/ghe-policy-check/pkg/logger"
)

func TestAuthMiddleware_EmptyKeyNeverMatches(t *testing.T) {
	m := NewAuthMiddleware([]config.APIKey{{Name: "unset", Key: ""}, {Name: "ops", Key: "k1"}})

	tests := []struct {
		name       string
		auth       string
		wantStatus int
		wantLog    string
	}{
		{"empty bearer", "Bearer ", http.StatusUnauthorized, ""},
		{"valid", "Bearer k1", http.StatusOK, "api_key=ops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var handled bool
			h := m.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handled = true
				logger.FromContext(r.Context(), nil).Info("handled")
			}))

			var buf bytes.Buffer
			req := httptest.NewRequest(http.MethodGet, "/v1/rate_limit", nil)
			req = req.WithContext(logger.NewContext(req.Context(), logger.NewWithWriter(&buf, "debug", "text")))
			req.Header.Set("Authorization", tt.auth)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Authenticate() status = %d, want %d", w.Code, tt.wantStatus)
			}
			if handled != (tt.wantStatus == http.StatusOK) {
				t.Errorf("Authenticate() handled = %v, want %v", handled, tt.wantStatus == http.StatusOK)
			}
			if tt.wantLog != "" && !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("log = %q, want it to contain %q", buf.String(), tt.wantLog)
			}
			if tt.wantLog == "" && strings.Contains(buf.String(), "api_key=") {
				t.Errorf("log = %q, want no api_key", buf.String())
			}
		})
	}
}

func TestCompletionLevel(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusNoContent, slog.LevelInfo},
		{http.StatusForbidden, slog.LevelWarn},
		{http.StatusNotImplemented, slog.LevelError},
	}

	for _, tt := range tests {
		if got := completionLevel(tt.status); got != tt.want {
			t.Errorf("completionLevel(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
