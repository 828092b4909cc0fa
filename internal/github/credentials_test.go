package github

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewCredentials_Empty(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
	}{
		{"nil", nil},
		{"empty", []string{}},
		{"blank token", []string{"a", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCredentials(tt.tokens)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("NewCredentials(%v) error = %v, want ErrConfiguration", tt.tokens, err)
			}
		})
	}
}

func TestNewClient_EmptyTokens(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://example.invalid"})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("NewClient() error = %v, want ErrConfiguration", err)
	}
}

func TestCredentials_Rotate(t *testing.T) {
	creds, err := NewCredentials([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}

	creds.Rotate()

	if got := creds.Authorization(); got != "Bearer b" {
		t.Errorf("Authorization() = %q, want %q", got, "Bearer b")
	}
	if got, want := creds.Tokens(), []string{"b", "c", "a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens() = %v, want %v", got, want)
	}
}

func TestCredentials_RotateSingleToken(t *testing.T) {
	creds, _ := NewCredentials([]string{"only"})

	creds.Rotate()

	if creds.Len() != 1 || creds.Active() != "only" {
		t.Errorf("Tokens() = %v, want [only]", creds.Tokens())
	}
}

func TestCredentials_Replace(t *testing.T) {
	creds, _ := NewCredentials([]string{"a", "b"})

	creds.Replace("fresh")

	if got, want := creds.Tokens(), []string{"fresh"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens() = %v, want %v", got, want)
	}
}

func TestNewCredentials_CopiesInput(t *testing.T) {
	tokens := []string{"a", "b"}
	creds, _ := NewCredentials(tokens)

	creds.Rotate()

	if tokens[0] != "a" {
		t.Errorf("input slice mutated to %v", tokens)
	}
}
