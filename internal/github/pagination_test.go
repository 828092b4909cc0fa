package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestNextURL(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"next and first", `<https://ghe/api/v3/users?page=2>; rel="next", <https://ghe/api/v3/users?page=1>; rel="first"`, "https://ghe/api/v3/users?page=2"},
		{"first only", `<https://ghe/api/v3/users?page=1>; rel="first"`, ""},
		{"next last", `<https://ghe/a?page=1>; rel="prev", <https://ghe/a?page=3>; rel="next"`, "https://ghe/a?page=3"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextURL(tt.header); got != tt.want {
				t.Errorf("NextURL(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestWithPageSize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://ghe/users", "https://ghe/users?per_page=100"},
		{"https://ghe/orgs/o/members?role=admin", "https://ghe/orgs/o/members?role=admin&per_page=100"},
	}

	for _, tt := range tests {
		if got := withPageSize(tt.in); got != tt.want {
			t.Errorf("withPageSize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// pagedServer serves /items in two pages linked with rel="next"
func pagedServer(rec *recorder, firstStatus int) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, `[3,4]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/items?page=2&per_page=100>; rel="next", <%s/items?page=2&per_page=100>; rel="last"`, srv.URL, srv.URL))
		if firstStatus != http.StatusOK {
			writeJSON(w, firstStatus, `{"message":"Server Error"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[1,2]`)
	}))
	return srv
}

func TestPaginate_TwoPages(t *testing.T) {
	rec := &recorder{}
	srv := pagedServer(rec, http.StatusOK)
	defer srv.Close()

	c := newTestClient(t, srv.URL, "t")

	var got []string
	for item, err := range c.Paginate(context.Background(), "/items") {
		if err != nil {
			t.Fatalf("Paginate() error = %v", err)
		}
		got = append(got, string(item))
	}

	if want := []string{"1", "2", "3", "4"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Paginate() = %v, want %v", got, want)
	}

	first := rec.find(http.MethodGet, "/items")[0]
	if first.Query != "per_page=100" {
		t.Errorf("first query = %q, want per_page=100", first.Query)
	}
}

func TestPaginate_NotRestartable(t *testing.T) {
	rec := &recorder{}
	srv := pagedServer(rec, http.StatusOK)
	defer srv.Close()

	c := newTestClient(t, srv.URL, "t")
	seq := c.Paginate(context.Background(), "/items")

	for range 2 {
		items, err := Collect(seq)
		if err != nil {
			t.Fatalf("Collect() error = %v", err)
		}
		if len(items) != 4 {
			t.Errorf("Collect() = %d items, want 4", len(items))
		}
	}

	if n := rec.count(http.MethodGet, "/items"); n != 4 {
		t.Errorf("requests = %d, want 4", n)
	}
}

func TestPaginate_EarlyBreakStopsFetching(t *testing.T) {
	rec := &recorder{}
	srv := pagedServer(rec, http.StatusOK)
	defer srv.Close()

	c := newTestClient(t, srv.URL, "t")
	for range c.Paginate(context.Background(), "/items") {
		break
	}

	if n := rec.count(http.MethodGet, "/items"); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}
}

func TestPaginate_UnclassifiedPageErrorContinues(t *testing.T) {
	rec := &recorder{}
	srv := pagedServer(rec, http.StatusInternalServerError)
	defer srv.Close()

	c := newTestClient(t, srv.URL, "t")
	items, err := Collect(c.Paginate(context.Background(), "/items"))
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var got []string
	for _, item := range items {
		got = append(got, string(item))
	}
	if want := []string{"3", "4"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Paginate() = %v, want %v", got, want)
	}
}

func TestPaginate_ClassifiedErrorStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, `{"message":"Repository access blocked"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "t")
	_, err := Collect(c.RepoCollaborators(context.Background(), "o", "r"))
	if !errors.Is(err, ErrRepositoryBlocked) {
		t.Errorf("Collect() error = %v, want ErrRepositoryBlocked", err)
	}
}

func TestPaginateSearch(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, `{"total_count":2,"items":[{"id":2,"full_name":"o/b"}]}`)
			return
		}
		if r.URL.Query().Get("q") != "org:o" {
			t.Errorf("q = %q, want org:o", r.URL.Query().Get("q"))
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/search/repositories?q=org%%3Ao&page=2>; rel="next"`, srv.URL))
		writeJSON(w, http.StatusOK, `{"total_count":2,"items":[{"id":1,"full_name":"o/a"}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "t")
	repos, err := Collect(c.SearchRepos(context.Background(), "org:o"))
	if err != nil {
		t.Fatalf("SearchRepos() error = %v", err)
	}

	var got []string
	for _, repo := range repos {
		got = append(got, repo.GetFullName())
	}
	if want := []string{"o/a", "o/b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SearchRepos() = %v, want %v", got, want)
	}
}
