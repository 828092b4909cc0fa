package policy

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/lei/ghe-policy-check/internal/store"
	"github.com/lei/ghe-policy-check/internal/webhook"
)

const testSecret = "hook-secret"

func newTestDispatcher(t *testing.T, svc *Service) *webhook.Dispatcher {
	t.Helper()
	registry := webhook.NewRegistry()
	if err := svc.RegisterHandlers(registry); err != nil {
		t.Fatalf("RegisterHandlers() error = %v", err)
	}
	return webhook.NewDispatcher(testSecret, registry, nil)
}

// deliver dispatches a signed delivery and waits for its background tasks
func deliver(t *testing.T, svc *Service, d *webhook.Dispatcher, event, action, body string) (any, error) {
	t.Helper()
	result, err := d.Dispatch(context.Background(), &webhook.Request{
		Event:      event,
		Action:     action,
		Signature:  webhook.Sign(testSecret, []byte(body)),
		DeliveryID: "delivery-1",
		Body:       []byte(body),
	})
	svc.Wait()
	return result, err
}

func TestRegisterHandlers_Conflict(t *testing.T) {
	svc := newTestService(t, newFakeGitHub(t))
	registry := webhook.NewRegistry()
	registry.MustRegister("ping", "created", func(ctx context.Context, req *webhook.Request) (any, error) {
		return nil, nil
	})

	if err := svc.RegisterHandlers(registry); !errors.Is(err, webhook.ErrConflictingHandler) {
		t.Errorf("RegisterHandlers() error = %v, want ErrConflictingHandler", err)
	}
}

func TestWebhook_Ping(t *testing.T) {
	svc := newTestService(t, newFakeGitHub(t))
	d := newTestDispatcher(t, svc)

	got, err := deliver(t, svc, d, "ping", "", `{"zen":"Keep it simple.","hook_id":42}`)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result, ok := got.(Result); !ok || result.Status != "pong" {
		t.Errorf("Dispatch() = %#v, want pong", got)
	}
}

func TestWebhook_RepositoryCreated(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub(t)
	f.respond(http.MethodGet, "/repos/alice/demo/collaborators", http.StatusOK,
		`[{"login":"alice","id":1}]`)
	svc := newTestService(t, f)
	d := newTestDispatcher(t, svc)

	body := `{"action":"created","repository":` + repoJSON(100, "alice", "User", "demo", []string{"public-data"}, "private") + `}`
	got, err := deliver(t, svc, d, "repository", "created", body)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result, ok := got.(Result); !ok || result.Repo != "alice/demo" {
		t.Errorf("Dispatch() = %#v, want saved alice/demo", got)
	}

	repo, err := svc.store.GetRepo(ctx, 100)
	if err != nil {
		t.Fatalf("GetRepo() error = %v", err)
	}
	if repo.Classification == nil || *repo.Classification != "public-data" {
		t.Errorf("Classification = %v, want public-data", repo.Classification)
	}
	if names := collaboratorNames(t, svc, repo.ID); len(names) != 1 || names[0] != "alice" {
		t.Errorf("collaborators = %v, want [alice]", names)
	}
}

func TestWebhook_RepositoryDeleted(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeGitHub(t))
	seedUserRepo(t, svc, 1, "alice", 100, "demo")
	d := newTestDispatcher(t, svc)

	body := `{"action":"deleted","repository":` + repoJSON(100, "alice", "User", "demo", nil, "private") + `}`
	if _, err := deliver(t, svc, d, "repository", "deleted", body); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if _, err := svc.store.GetRepo(ctx, 100); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRepo() error = %v, want ErrNotFound", err)
	}
}

func TestWebhook_Member(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub(t)
	f.respond(http.MethodGet, "/repos/alice/demo/collaborators", http.StatusOK,
		`[{"login":"alice","id":1},{"login":"bob","id":2}]`)
	svc := newTestService(t, f)
	repo := seedUserRepo(t, svc, 1, "alice", 100, "demo")
	d := newTestDispatcher(t, svc)

	body := `{
		"action": "added",
		"member": {"login": "bob", "id": 2},
		"repository": ` + repoJSON(100, "alice", "User", "demo", nil, "private") + `
	}`
	if _, err := deliver(t, svc, d, "member", "added", body); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if _, err := svc.store.GetUser(ctx, 2); err != nil {
		t.Errorf("GetUser(bob) error = %v", err)
	}
	if names := collaboratorNames(t, svc, repo.ID); len(names) != 2 {
		t.Errorf("collaborators = %v, want alice and bob", names)
	}
}

func TestWebhook_MembershipAdded(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub(t)
	f.respond(http.MethodGet, "/orgs/acme/members", http.StatusOK, `[{"login":"olduser","id":5}]`)
	svc := newTestService(t, f)
	repo := seedOrgRepo(t, svc, "acme", 5, "olduser", 200, "svc")
	org, err := svc.store.GetOrgByName(ctx, "acme")
	if err != nil {
		t.Fatalf("GetOrgByName() error = %v", err)
	}
	team, err := svc.store.EnsureTeam(ctx, 30, "Core", "core", org.ID)
	if err != nil {
		t.Fatalf("EnsureTeam() error = %v", err)
	}
	if err := svc.store.AddTeamRepo(ctx, team.ID, repo.ID); err != nil {
		t.Fatalf("AddTeamRepo() error = %v", err)
	}
	d := newTestDispatcher(t, svc)

	body := `{
		"action": "added",
		"scope": "team",
		"member": {"login": "bob", "id": 2},
		"team": {"id": 30, "name": "Core", "slug": "core"},
		"organization": {"login": "acme", "id": 5000}
	}`
	if _, err := deliver(t, svc, d, "membership", "added", body); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	members, err := svc.store.TeamMembers(ctx, team.ID)
	if err != nil {
		t.Fatalf("TeamMembers() error = %v", err)
	}
	if len(members) != 1 || members[0].Username != "bob" {
		t.Errorf("TeamMembers() = %v, want [bob]", members)
	}
	if names := collaboratorNames(t, svc, repo.ID); len(names) != 1 || names[0] != "bob" {
		t.Errorf("collaborators = %v, want [bob]", names)
	}
}

func TestWebhook_MembershipIgnoresOrgScope(t *testing.T) {
	svc := newTestService(t, newFakeGitHub(t))
	d := newTestDispatcher(t, svc)

	body := `{"action":"added","scope":"organization","member":{"login":"bob","id":2}}`
	got, err := deliver(t, svc, d, "membership", "added", body)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result, ok := got.(Result); !ok || result.Status != "ignored" {
		t.Errorf("Dispatch() = %#v, want ignored", got)
	}
}

func TestWebhook_OrganizationMemberAdded(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub(t)
	f.respond(http.MethodGet, "/repos/acme/svc/collaborators", http.StatusOK,
		`[{"login":"olduser","id":5},{"login":"bob","id":2}]`)
	svc := newTestService(t, f)
	repo := seedOrgRepo(t, svc, "acme", 5, "olduser", 200, "svc")
	d := newTestDispatcher(t, svc)

	body := `{
		"action": "member_added",
		"membership": {"user": {"login": "bob", "id": 2}, "role": "member"},
		"organization": {"login": "acme", "id": 5000}
	}`
	if _, err := deliver(t, svc, d, "organization", "member_added", body); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	// AddOrgMember queues the collaborator syncs from inside its own task
	svc.Wait()

	org, err := svc.store.GetOrg(ctx, 5000)
	if err != nil {
		t.Fatalf("GetOrg() error = %v", err)
	}
	members, err := svc.store.OrgMembers(ctx, org.ID)
	if err != nil {
		t.Fatalf("OrgMembers() error = %v", err)
	}
	if len(members) != 1 || members[0].Username != "bob" {
		t.Errorf("OrgMembers() = %v, want [bob]", members)
	}
	if names := collaboratorNames(t, svc, repo.ID); len(names) != 2 {
		t.Errorf("collaborators = %v, want olduser and bob", names)
	}
}

func TestWebhook_TeamAddedToRepository(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub(t)
	f.respond(http.MethodGet, "/repos/acme/svc/collaborators", http.StatusOK, `[{"login":"olduser","id":5}]`)
	svc := newTestService(t, f)
	repo := seedOrgRepo(t, svc, "acme", 5, "olduser", 200, "svc")
	d := newTestDispatcher(t, svc)

	body := `{
		"action": "added_to_repository",
		"team": {"id": 30, "name": "Core", "slug": "core"},
		"repository": ` + repoJSON(200, "acme", "Organization", "svc", nil, "private") + `,
		"organization": {"login": "acme", "id": 5000}
	}`
	if _, err := deliver(t, svc, d, "team", "added_to_repository", body); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	team, err := svc.store.GetTeam(ctx, 30)
	if err != nil {
		t.Fatalf("GetTeam() error = %v", err)
	}
	repos, err := svc.store.TeamRepos(ctx, team.ID)
	if err != nil {
		t.Fatalf("TeamRepos() error = %v", err)
	}
	if len(repos) != 1 || repos[0].ID != repo.ID {
		t.Errorf("TeamRepos() = %v, want [acme/svc]", repos)
	}
}

func TestWebhook_UnhandledAction(t *testing.T) {
	svc := newTestService(t, newFakeGitHub(t))
	d := newTestDispatcher(t, svc)

	_, err := deliver(t, svc, d, "repository", "archived", `{"action":"archived"}`)
	if !errors.Is(err, webhook.ErrUnhandledAction) {
		t.Errorf("Dispatch() error = %v, want ErrUnhandledAction", err)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	svc := newTestService(t, newFakeGitHub(t))
	d := newTestDispatcher(t, svc)

	_, err := d.Dispatch(context.Background(), &webhook.Request{
		Event:     "ping",
		Signature: webhook.Sign("wrong", []byte(`{}`)),
		Body:      []byte(`{}`),
	})
	if !errors.Is(err, webhook.ErrInvalidSignature) {
		t.Errorf("Dispatch() error = %v, want ErrInvalidSignature", err)
	}
}
