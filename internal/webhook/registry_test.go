package webhook

import (
	"context"
	"errors"
	"testing"
)

func nopHandler(context.Context, *Request) (any, error) { return nil, nil }

func TestRegistry_Conflicts(t *testing.T) {
	tests := []struct {
		name   string
		first  string
		second string
	}{
		{"action onto catch-all", "", "opened"},
		{"catch-all onto action", "opened", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.Register("pull_request", tt.first, nopHandler); err != nil {
				t.Fatalf("first Register() error = %v", err)
			}
			err := r.Register("Pull_Request", tt.second, nopHandler)
			if !errors.Is(err, ErrConflictingHandler) {
				t.Errorf("second Register() error = %v, want ErrConflictingHandler", err)
			}
		})
	}
}

func TestRegistry_ConflictLeavesExistingHandler(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("ping", "", func(context.Context, *Request) (any, error) { return "pong", nil })
	_ = r.Register("ping", "zen", nopHandler)

	h, err := r.Lookup("ping", "zen")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got, _ := h(context.Background(), &Request{}); got != "pong" {
		t.Errorf("handler result = %v, want pong", got)
	}
}

func TestRegistry_SameKindOverwrites(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("member", "added", nopHandler)
	r.MustRegister("member", "ADDED", func(context.Context, *Request) (any, error) { return "second", nil })

	h, err := r.Lookup("member", "added")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got, _ := h(context.Background(), &Request{}); got != "second" {
		t.Errorf("handler result = %v, want second", got)
	}
}

func TestRegistry_InvalidRegistration(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", "", nopHandler); err == nil {
		t.Error("Register(\"\") error = nil, want error")
	}
	if err := r.Register("push", "", nil); err == nil {
		t.Error("Register(nil handler) error = nil, want error")
	}
}

func TestRegistry_MustRegisterPanicsOnConflict(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("team", "", nopHandler)

	defer func() {
		if recover() == nil {
			t.Error("MustRegister() did not panic on conflict")
		}
	}()
	r.MustRegister("team", "created", nopHandler)
}
