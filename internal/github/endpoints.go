package github

import (
	"context"
	"fmt"
	"iter"
	"net/url"

	gh "github.com/google/go-github/v71/github"
)

// API paths, relative to the base URL
const (
	AuthenticatedUserReposPath = "/user/repos"
	ImpersonatePath            = "/admin/users/%s/authorizations"
	OrganizationsPath          = "/organizations"
	OrganizationMembersPath    = "/orgs/%s/members"
	OrganizationReposPath      = "/orgs/%s/repos"
	RateLimitPath              = "/rate_limit"
	RepoPath                   = "/repos/%s/%s"
	RepoByIDPath               = "/repositories/%d"
	RepoCollaboratorsPath      = "/repos/%s/%s/collaborators"
	RepoForksPath              = "/repos/%s/%s/forks"
	RepoTopicsPath             = "/repos/%s/%s/topics"
	SearchReposPath            = "/search/repositories"
	OrganizationMembershipPath = "/orgs/%s/memberships/%s"
	SuspendUserPath            = "/users/%s/suspended"
	TeamsPath                  = "/orgs/%s/teams"
	TeamMembersPath            = "/orgs/%s/teams/%s/members"
	TeamReposPath              = "/organizations/%d/team/%d/repos"
	UsersPath                  = "/users"
	UserPath                   = "/users/%s"
	UserReposPath              = "/users/%s/repos"
)

// Organizations lists every organization, starting after the given id when since > 0
func (c *Client) Organizations(ctx context.Context, since int64) iter.Seq2[*gh.Organization, error] {
	return decodeSeq[*gh.Organization](c.Paginate(ctx, withSince(OrganizationsPath, since)))
}

// Users lists every user, starting after the given id when since > 0
func (c *Client) Users(ctx context.Context, since int64) iter.Seq2[*gh.User, error] {
	return decodeSeq[*gh.User](c.Paginate(ctx, withSince(UsersPath, since)))
}

// AuthenticatedUserRepos returns every repository visible to the active token.
// params is appended verbatim, e.g. "?affiliation=owner".
func (c *Client) AuthenticatedUserRepos(ctx context.Context, params string) ([]*gh.Repository, error) {
	return Collect(decodeSeq[*gh.Repository](c.Paginate(ctx, AuthenticatedUserReposPath+params)))
}

// UserRepos lists the repositories owned by user
func (c *Client) UserRepos(ctx context.Context, user string) iter.Seq2[*gh.Repository, error] {
	return decodeSeq[*gh.Repository](c.Paginate(ctx, fmt.Sprintf(UserReposPath, user)))
}

// OrganizationRepos lists the repositories of org. params is appended verbatim.
func (c *Client) OrganizationRepos(ctx context.Context, org, params string) iter.Seq2[*gh.Repository, error] {
	return decodeSeq[*gh.Repository](c.Paginate(ctx, fmt.Sprintf(OrganizationReposPath, org)+params))
}

// SearchRepos runs a repository search query
func (c *Client) SearchRepos(ctx context.Context, query string) iter.Seq2[*gh.Repository, error] {
	path := SearchReposPath + "?q=" + url.QueryEscape(query)
	return decodeSeq[*gh.Repository](c.PaginateSearch(ctx, path))
}

// RepositoryTopics returns the topic names of owner/repo
func (c *Client) RepositoryTopics(ctx context.Context, owner, repo string) ([]string, error) {
	resp, err := c.Get(ctx, fmt.Sprintf(RepoTopicsPath, owner, repo))
	if err != nil {
		return nil, err
	}
	return decodeTopics(resp)
}

// SetRepositoryTopics replaces the topics of owner/repo
func (c *Client) SetRepositoryTopics(ctx context.Context, owner, repo string, topics []string) ([]string, error) {
	resp, err := c.Put(ctx, fmt.Sprintf(RepoTopicsPath, owner, repo), WithJSON(map[string][]string{"names": topics}))
	if err != nil {
		return nil, err
	}
	return decodeTopics(resp)
}

// AddRepositoryTopics prepends topics to the existing topics of owner/repo
func (c *Client) AddRepositoryTopics(ctx context.Context, owner, repo string, topics []string) ([]string, error) {
	existing, err := c.RepositoryTopics(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("get topics: %w", err)
	}

	names := make([]string, 0, len(topics)+len(existing))
	names = append(names, topics...)
	names = append(names, existing...)
	return c.SetRepositoryTopics(ctx, owner, repo, names)
}

// RepositoryForks lists the forks of owner/repo
func (c *Client) RepositoryForks(ctx context.Context, owner, repo string) iter.Seq2[*gh.Repository, error] {
	return decodeSeq[*gh.Repository](c.Paginate(ctx, fmt.Sprintf(RepoForksPath, owner, repo)))
}

// RepoByID fetches a repository by its numeric id
func (c *Client) RepoByID(ctx context.Context, id int64) (*gh.Repository, error) {
	resp, err := c.Get(ctx, fmt.Sprintf(RepoByIDPath, id))
	if err != nil {
		return nil, err
	}
	return decodeOne[gh.Repository](resp)
}

// Repo fetches owner/repo
func (c *Client) Repo(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	resp, err := c.Get(ctx, fmt.Sprintf(RepoPath, owner, repo))
	if err != nil {
		return nil, err
	}
	return decodeOne[gh.Repository](resp)
}

// User fetches a user by login
func (c *Client) User(ctx context.Context, login string) (*gh.User, error) {
	resp, err := c.Get(ctx, fmt.Sprintf(UserPath, login))
	if err != nil {
		return nil, err
	}
	return decodeOne[gh.User](resp)
}

// RepoCollaborators lists the collaborators of owner/repo
func (c *Client) RepoCollaborators(ctx context.Context, owner, repo string) iter.Seq2[*gh.User, error] {
	return decodeSeq[*gh.User](c.Paginate(ctx, fmt.Sprintf(RepoCollaboratorsPath, owner, repo)))
}

// OrganizationMembers lists the members of org
func (c *Client) OrganizationMembers(ctx context.Context, org string) iter.Seq2[*gh.User, error] {
	return decodeSeq[*gh.User](c.Paginate(ctx, fmt.Sprintf(OrganizationMembersPath, org)))
}

// OrganizationAdmins lists the members of org with the admin role
func (c *Client) OrganizationAdmins(ctx context.Context, org string) iter.Seq2[*gh.User, error] {
	return decodeSeq[*gh.User](c.Paginate(ctx, fmt.Sprintf(OrganizationMembersPath, org)+"?role=admin"))
}

// Teams lists the teams of org
func (c *Client) Teams(ctx context.Context, org string) iter.Seq2[*gh.Team, error] {
	return decodeSeq[*gh.Team](c.Paginate(ctx, fmt.Sprintf(TeamsPath, org)))
}

// TeamRepos lists the repositories of a team by organization and team id
func (c *Client) TeamRepos(ctx context.Context, orgID, teamID int64) iter.Seq2[*gh.Repository, error] {
	return decodeSeq[*gh.Repository](c.Paginate(ctx, fmt.Sprintf(TeamReposPath, orgID, teamID)))
}

// TeamMembers lists the members of a team by organization login and team slug
func (c *Client) TeamMembers(ctx context.Context, org, teamSlug string) iter.Seq2[*gh.User, error] {
	return decodeSeq[*gh.User](c.Paginate(ctx, fmt.Sprintf(TeamMembersPath, org, teamSlug)))
}

// CreateImpersonationToken asks GitHub for an impersonation token for user
func (c *Client) CreateImpersonationToken(ctx context.Context, user string, scopes []string) (*Response, error) {
	return c.Post(ctx, fmt.Sprintf(ImpersonatePath, user), WithJSON(map[string][]string{"scopes": scopes}))
}

// DeleteImpersonationToken revokes the impersonation token of user
func (c *Client) DeleteImpersonationToken(ctx context.Context, user string) (*Response, error) {
	return c.Delete(ctx, fmt.Sprintf(ImpersonatePath, user))
}

// SetOrganizationMembership makes user an admin of org
func (c *Client) SetOrganizationMembership(ctx context.Context, org, user string) (*Response, error) {
	return c.Put(ctx, fmt.Sprintf(OrganizationMembershipPath, org, user), WithJSON(map[string]string{"role": "admin"}))
}

// SuspendUser suspends user with the given reason
func (c *Client) SuspendUser(ctx context.Context, user, reason string) (*Response, error) {
	return c.Put(ctx, fmt.Sprintf(SuspendUserPath, user), WithJSON(map[string]string{"reason": reason}))
}

// UnsuspendUser lifts the suspension of user with the given reason
func (c *Client) UnsuspendUser(ctx context.Context, user, reason string) (*Response, error) {
	return c.Delete(ctx, fmt.Sprintf(SuspendUserPath, user), WithJSON(map[string]string{"reason": reason}))
}

func withSince(path string, since int64) string {
	if since > 0 {
		return fmt.Sprintf("%s?since=%d", path, since)
	}
	return path
}

func decodeOne[T any](resp *Response) (*T, error) {
	var v T
	if err := resp.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeTopics(resp *Response) ([]string, error) {
	var topics struct {
		Names []string `json:"names"`
	}
	if err := resp.Decode(&topics); err != nil {
		return nil, err
	}
	return topics.Names, nil
}
