package policy

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/lei/ghe-policy-check/internal/config"
	"github.com/lei/ghe-policy-check/internal/models"
	"github.com/lei/ghe-policy-check/internal/store"
)

const (
	notFoundBody = `{"message":"Not Found"}`
	blockedBody  = `{"message":"Repository access blocked"}`
	ownerUser    = "ghe-admin"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeGitHub is a GitHub Enterprise stand-in. Impersonation tokens are
// minted for every user; other routes are registered per test and answer
// 404 otherwise.
type fakeGitHub struct {
	*httptest.Server

	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	calls  []string
	bodies map[string][]string
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{
		routes: make(map[string]http.HandlerFunc),
		bodies: make(map[string][]string),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGitHub) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.bodies[key] = append(f.bodies[key], string(body))
	route, ok := f.routes[key]
	f.mu.Unlock()

	switch {
	case ok:
		route(w, r)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/admin/users/") && strings.HasSuffix(r.URL.Path, "/authorizations"):
		user := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/admin/users/"), "/authorizations")
		writeJSON(w, http.StatusCreated, fmt.Sprintf(`{"token":"imp-%s"}`, user))
	case r.URL.Path == "/rate_limit":
		writeJSON(w, http.StatusOK, `{"resources":{"core":{"limit":5000,"remaining":4999,"reset":1700000000}}}`)
	default:
		writeJSON(w, http.StatusNotFound, notFoundBody)
	}
}

// respond registers a fixed response for method and path
func (f *fakeGitHub) respond(method, path string, status int, body string) {
	f.handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, body)
	})
}

func (f *fakeGitHub) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeGitHub) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method+" "+path {
			n++
		}
	}
	return n
}

func (f *fakeGitHub) bodiesFor(method, path string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies[method+" "+path]...)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func newTestPolicy() *config.Policy {
	policy, err := config.ParsePolicy([]byte(`
classifications:
  - name: Public
    topic: public-data
  - name: Secret
    topic: secret-data
non_compliant:
  - classification: secret-data
    visibility: public
`))
	if err != nil {
		panic(err)
	}
	return policy
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:policy-%s?mode=memory&cache=shared&_foreign_keys=on", strings.ReplaceAll(t.Name(), "/", "-"))
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	st := store.New(bun.NewDB(sqldb, sqlitedialect.New()))
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return st
}

func newTestService(t *testing.T, f *fakeGitHub) *Service {
	t.Helper()

	clients := NewClientFactory(config.GitHubConfig{
		APIURL:      f.URL,
		AdminTokens: []string{"admin"},
		OwnerToken:  "owner",
		Timeout:     5 * time.Second,
	}, nil)

	svc := NewService(newTestStore(t), clients, Config{
		OwnerUser: ownerUser,
		Polling: config.PollingConfig{
			ReminderMinutes:      24 * 60,
			PollingPeriodMinutes: 24 * 60,
			MaxSyncRetry:         2,
			Concurrency:          2,
		},
		Policy: newTestPolicy(),
	}, nil)
	svc.now = func() time.Time { return fixedNow }
	svc.taskBackoff = time.Millisecond
	svc.taskAttempts = 2
	return svc
}

// seedUserRepo mirrors a user and a repo they own, returning the stored repo
func seedUserRepo(t *testing.T, svc *Service, userID int64, login string, repoID int64, name string) *models.Repo {
	t.Helper()
	ctx := context.Background()

	owner, err := svc.store.EnsureUser(ctx, userID, login, nil)
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	repo := &models.Repo{RepoName: login + "/" + name, GitHubID: repoID, OwnerID: owner.ID}
	if err := svc.store.SaveRepo(ctx, repo); err != nil {
		t.Fatalf("SaveRepo() error = %v", err)
	}
	return repo
}

// seedOrgRepo mirrors an org owned by ownerLogin and a repo in it
func seedOrgRepo(t *testing.T, svc *Service, org string, ownerID int64, ownerLogin string, repoID int64, name string) *models.Repo {
	t.Helper()
	ctx := context.Background()

	owner, err := svc.store.EnsureUser(ctx, ownerID, ownerLogin, nil)
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	o, err := svc.store.EnsureOrg(ctx, ownerID*1000, org, owner.ID)
	if err != nil {
		t.Fatalf("EnsureOrg() error = %v", err)
	}
	repo := &models.Repo{RepoName: org + "/" + name, GitHubID: repoID, OwnerID: owner.ID, OrgID: &o.ID}
	if err := svc.store.SaveRepo(ctx, repo); err != nil {
		t.Fatalf("SaveRepo() error = %v", err)
	}
	return repo
}

func repoJSON(id int64, owner, ownerType, name string, topics []string, visibility string) string {
	quoted := make([]string, 0, len(topics))
	for _, topic := range topics {
		quoted = append(quoted, fmt.Sprintf("%q", topic))
	}
	return fmt.Sprintf(`{
		"id": %d,
		"name": %q,
		"full_name": %q,
		"owner": {"login": %q, "id": 1, "type": %q},
		"description": "demo repo",
		"size": 42,
		"topics": [%s],
		"visibility": %q,
		"disabled": false,
		"html_url": "https://ghe.example.com/%s/%s"
	}`, id, name, owner+"/"+name, owner, ownerType, strings.Join(quoted, ","), visibility, owner, name)
}
