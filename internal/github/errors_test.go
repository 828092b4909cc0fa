package github

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
		target error
	}{
		{"unprocessable", 422, `{"message":"Validation Failed"}`, KindClient, ErrClient},
		{"not found", 404, `{"message":"Not Found"}`, KindNotFound, ErrNotFound},
		{"status beats message", 404, `{"message":"Bad credentials"}`, KindNotFound, ErrNotFound},
		{"suspended", 403, `{"message":"Sorry. Your account was suspended."}`, KindAccountSuspended, ErrAccountSuspended},
		{"blocked", 451, `{"message":"Repository access blocked"}`, KindRepositoryBlocked, ErrRepositoryBlocked},
		{"bad credentials", 401, `{"message":"Bad credentials"}`, KindBadCredentials, ErrBadCredentials},
		{"rate limit", 403, `{"message":"API rate limit exceeded for user ID 1."}`, KindRateLimited, ErrRateLimited},
		{"secondary rate limit", 403, `{"message":"You have exceeded a secondary rate limit"}`, KindRateLimited, ErrRateLimited},
		{"unclassified", 500, `{"message":"Server Error"}`, KindUnclassified, ErrUnexpectedStatus},
		{"not json", 502, `<html>bad gateway</html>`, KindUnclassified, ErrUnexpectedStatus},
		{"not json 422", 422, ``, KindClient, ErrClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.status, []byte(tt.body))
			if got == nil {
				t.Fatalf("Classify(%d) = nil, want %v", tt.status, tt.want)
			}
			if got.Kind != tt.want {
				t.Errorf("Classify(%d, %s).Kind = %v, want %v", tt.status, tt.body, got.Kind, tt.want)
			}
			if !errors.Is(got, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false, want true", got, tt.target)
			}
		})
	}
}

func TestClassify_Success(t *testing.T) {
	for _, status := range []int{200, 201, 204} {
		if got := Classify(status, nil); got != nil {
			t.Errorf("Classify(%d) = %v, want nil", status, got)
		}
	}
}

func TestAPIError_IsOnlyOwnKind(t *testing.T) {
	err := Classify(404, []byte(`{"message":"Not Found"}`))

	if errors.Is(err, ErrRateLimited) {
		t.Error("NotFound error matched ErrRateLimited")
	}
	if errors.Is(err, ErrUnexpectedStatus) {
		t.Error("NotFound error matched ErrUnexpectedStatus")
	}
}
