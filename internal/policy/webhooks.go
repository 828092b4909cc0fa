package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v71/github"

	"github.com/lei/ghe-policy-check/internal/models"
	"github.com/lei/ghe-policy-check/internal/store"
	"github.com/lei/ghe-policy-check/internal/webhook"
)

// Result is the JSON body returned for a handled delivery
type Result struct {
	Status string `json:"status"`
	Repo   string `json:"repo,omitempty"`
	User   string `json:"user,omitempty"`
	Team   string `json:"team,omitempty"`
	Org    string `json:"org,omitempty"`
}

// RegisterHandlers registers the mirror's event handlers on r
func (s *Service) RegisterHandlers(r *webhook.Registry) error {
	handlers := []struct {
		event   string
		actions []string
		handler webhook.Handler
	}{
		{"ping", []string{""}, s.handlePing},
		{"repository", []string{"created", "renamed", "transferred", "publicized", "privatized", "edited"}, s.handleRepositorySaved},
		{"repository", []string{"deleted"}, s.handleRepositoryDeleted},
		{"member", []string{"added", "removed", "edited"}, s.handleMember},
		{"membership", []string{"added", "removed"}, s.handleMembership},
		{"organization", []string{"member_added", "member_removed"}, s.handleOrganization},
		{"team", []string{"added_to_repository", "removed_from_repository"}, s.handleTeamRepository},
	}

	for _, h := range handlers {
		for _, action := range h.actions {
			if err := r.Register(h.event, action, h.handler); err != nil {
				return err
			}
		}
	}
	return nil
}

func parsePayload[T any](req *webhook.Request) (T, error) {
	var zero T
	event, err := gh.ParseWebHook(strings.ToLower(req.Event), req.Body)
	if err != nil {
		return zero, fmt.Errorf("policy: parse %s payload: %w", req.Event, err)
	}
	payload, ok := event.(T)
	if !ok {
		return zero, fmt.Errorf("policy: unexpected %s payload %T", req.Event, event)
	}
	return payload, nil
}

func (s *Service) handlePing(ctx context.Context, req *webhook.Request) (any, error) {
	ev, err := parsePayload[*gh.PingEvent](req)
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info("policy: received ping", "hook_id", ev.GetHookID())
	return Result{Status: "pong"}, nil
}

func (s *Service) handleRepositorySaved(ctx context.Context, req *webhook.Request) (any, error) {
	ev, err := parsePayload[*gh.RepositoryEvent](req)
	if err != nil {
		return nil, err
	}

	repo, err := s.SaveRepository(ctx, ev.GetRepo())
	if err != nil {
		return nil, err
	}

	switch ev.GetAction() {
	case "created", "transferred":
		s.queueCollaboratorSync(ctx, repo.GitHubID)
	}
	return Result{Status: "saved", Repo: repo.RepoName}, nil
}

func (s *Service) handleRepositoryDeleted(ctx context.Context, req *webhook.Request) (any, error) {
	ev, err := parsePayload[*gh.RepositoryEvent](req)
	if err != nil {
		return nil, err
	}

	githubID := ev.GetRepo().GetID()
	s.Go(ctx, "delete-repository", func(ctx context.Context) error {
		return s.DeleteRepository(ctx, githubID)
	})
	return Result{Status: "queued", Repo: ev.GetRepo().GetFullName()}, nil
}

// handleMember reacts to collaborator changes on a repo
func (s *Service) handleMember(ctx context.Context, req *webhook.Request) (any, error) {
	ev, err := parsePayload[*gh.MemberEvent](req)
	if err != nil {
		return nil, err
	}

	user, err := s.EnsureUser(ctx, ev.GetMember())
	if err != nil {
		return nil, err
	}
	s.queueCollaboratorSync(ctx, ev.GetRepo().GetID())
	return Result{Status: "queued", Repo: ev.GetRepo().GetFullName(), User: user.Username}, nil
}

// handleMembership reacts to team membership changes
func (s *Service) handleMembership(ctx context.Context, req *webhook.Request) (any, error) {
	ev, err := parsePayload[*gh.MembershipEvent](req)
	if err != nil {
		return nil, err
	}
	if ev.GetScope() != "team" {
		return Result{Status: "ignored"}, nil
	}

	user, err := s.EnsureUser(ctx, ev.GetMember())
	if err != nil {
		return nil, err
	}
	team, err := s.ensureTeam(ctx, ev.GetOrg(), ev.GetTeam())
	if err != nil {
		return nil, err
	}
	result := Result{Status: "queued", User: user.Username, Team: team.TeamName}

	if ev.GetAction() == "added" {
		teamID, userID := team.GitHubID, user.GitHubID
		s.Go(ctx, "add-membership", func(ctx context.Context) error {
			return s.AddMembership(ctx, teamID, userID)
		})
		return result, nil
	}

	if err := s.store.RemoveTeamMember(ctx, team.ID, user.ID); err != nil {
		return nil, err
	}
	repos, err := s.store.TeamRepos(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	for _, repo := range repos {
		s.queueCollaboratorSync(ctx, repo.GitHubID)
	}
	return result, nil
}

// handleOrganization reacts to org membership changes
func (s *Service) handleOrganization(ctx context.Context, req *webhook.Request) (any, error) {
	ev, err := parsePayload[*gh.OrganizationEvent](req)
	if err != nil {
		return nil, err
	}

	ghOrg := ev.GetOrganization()
	org, err := s.EnsureOrg(ctx, ghOrg.GetID(), ghOrg.GetLogin())
	if err != nil {
		return nil, err
	}
	user, err := s.EnsureUser(ctx, ev.GetMembership().GetUser())
	if err != nil {
		return nil, err
	}
	result := Result{Status: "queued", User: user.Username, Org: org.OrgName}

	if ev.GetAction() == "member_added" {
		orgID, userID := org.GitHubID, user.GitHubID
		s.Go(ctx, "add-org-member", func(ctx context.Context) error {
			return s.AddOrgMember(ctx, orgID, userID)
		})
		return result, nil
	}

	if err := s.store.RemoveOrgMember(ctx, org.ID, user.ID); err != nil {
		return nil, err
	}
	if err := s.syncOrgRepos(ctx, org.ID); err != nil {
		return nil, err
	}
	return result, nil
}

// handleTeamRepository reacts to a team gaining or losing access to a repo
func (s *Service) handleTeamRepository(ctx context.Context, req *webhook.Request) (any, error) {
	ev, err := parsePayload[*gh.TeamEvent](req)
	if err != nil {
		return nil, err
	}

	team, err := s.ensureTeam(ctx, ev.GetOrg(), ev.GetTeam())
	if err != nil {
		return nil, err
	}

	repo, err := s.store.GetRepo(ctx, ev.GetRepo().GetID())
	if errors.Is(err, store.ErrNotFound) {
		repo, err = s.SaveRepository(ctx, ev.GetRepo())
	}
	if err != nil {
		return nil, err
	}

	if ev.GetAction() == "added_to_repository" {
		err = s.store.AddTeamRepo(ctx, team.ID, repo.ID)
	} else {
		err = s.store.RemoveTeamRepo(ctx, team.ID, repo.ID)
	}
	if err != nil {
		return nil, err
	}

	s.queueCollaboratorSync(ctx, repo.GitHubID)
	return Result{Status: "queued", Repo: repo.RepoName, Team: team.TeamName}, nil
}

func (s *Service) ensureTeam(ctx context.Context, ghOrg *gh.Organization, ghTeam *gh.Team) (*models.Team, error) {
	if ghOrg == nil || ghTeam == nil {
		return nil, fmt.Errorf("policy: payload has no team or organization")
	}
	org, err := s.EnsureOrg(ctx, ghOrg.GetID(), ghOrg.GetLogin())
	if err != nil {
		return nil, err
	}
	return s.store.EnsureTeam(ctx, ghTeam.GetID(), ghTeam.GetName(), ghTeam.GetSlug(), org.ID)
}
