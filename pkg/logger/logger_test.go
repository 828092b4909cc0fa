package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json").With("component", "github")

	log.Debug("hidden")
	log.Info("rotating token", "remaining", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if record["msg"] != "rotating token" {
		t.Errorf("msg = %v, want %q", record["msg"], "rotating token")
	}
	if record["component"] != "github" {
		t.Errorf("component = %v, want %q", record["component"], "github")
	}
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "text")

	log.Debug("request", "method", "GET")

	if !strings.Contains(buf.String(), "method=GET") {
		t.Errorf("text output = %q, want key=value pairs", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	fallback := Discard()
	if got := FromContext(context.Background(), fallback); got != fallback {
		t.Errorf("FromContext(empty) = %p, want fallback %p", got, fallback)
	}

	scoped := Discard().With("request_id", "abc")
	ctx := NewContext(context.Background(), scoped)
	if got := FromContext(ctx, fallback); got != scoped {
		t.Errorf("FromContext() = %p, want %p", got, scoped)
	}
}
