package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Visibility is the GitHub visibility of a repo
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityInternal Visibility = "internal"
	VisibilityPrivate  Visibility = "private"
)

// ParseVisibility maps a GitHub visibility string, defaulting to private
func ParseVisibility(s string) Visibility {
	switch Visibility(s) {
	case VisibilityPublic, VisibilityInternal:
		return Visibility(s)
	default:
		return VisibilityPrivate
	}
}

// User is a mirrored GitHub user
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          int64      `bun:"id,pk,autoincrement" json:"id"`
	Username    string     `bun:"username,notnull,unique" json:"username"`
	GitHubID    int64      `bun:"github_id,notnull,unique" json:"github_id"`
	Email       *string    `bun:"email,unique" json:"email,omitempty"`
	SuspendedAt *time.Time `bun:"suspended_at" json:"suspended_at,omitempty"`
	LastSynced  *time.Time `bun:"last_synced" json:"last_synced,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	ModifiedAt  time.Time  `bun:"modified_at,nullzero,notnull,default:current_timestamp" json:"modified_at"`
}

func (u *User) String() string {
	return u.Username
}

// Org is a mirrored GitHub organization
type Org struct {
	bun.BaseModel `bun:"table:orgs,alias:o"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	OrgName    string    `bun:"org_name,notnull,unique" json:"org_name"`
	GitHubID   int64     `bun:"github_id,notnull,unique" json:"github_id"`
	OwnerID    int64     `bun:"owner_id,notnull" json:"owner_id"`
	Owner      *User     `bun:"rel:belongs-to,join:owner_id=id" json:"owner,omitempty"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	ModifiedAt time.Time `bun:"modified_at,nullzero,notnull,default:current_timestamp" json:"modified_at"`
}

func (o *Org) String() string {
	return o.OrgName
}

// Team is a mirrored GitHub team
type Team struct {
	bun.BaseModel `bun:"table:teams,alias:t"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	GitHubID   int64     `bun:"github_id,notnull,unique" json:"github_id"`
	TeamName   string    `bun:"team_name,notnull" json:"team_name"`
	TeamSlug   string    `bun:"team_slug,notnull" json:"team_slug"`
	OrgID      int64     `bun:"org_id,notnull" json:"org_id"`
	Org        *Org      `bun:"rel:belongs-to,join:org_id=id" json:"org,omitempty"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	ModifiedAt time.Time `bun:"modified_at,nullzero,notnull,default:current_timestamp" json:"modified_at"`
}

func (t *Team) String() string {
	return t.TeamName
}

// Repo is a mirrored GitHub repository
type Repo struct {
	bun.BaseModel `bun:"table:repos,alias:r"`

	ID                     int64      `bun:"id,pk,autoincrement" json:"id"`
	RepoName               string     `bun:"repo_name,notnull,unique" json:"repo_name"`
	Description            *string    `bun:"description" json:"description,omitempty"`
	GitHubID               int64      `bun:"github_id,notnull,unique" json:"github_id"`
	Classification         *string    `bun:"classification" json:"classification,omitempty"`
	ClassificationModified time.Time  `bun:"classification_modified,nullzero,notnull,default:current_timestamp" json:"classification_modified"`
	Visibility             Visibility `bun:"visibility,notnull,default:'private'" json:"visibility"`
	HTMLURL                *string    `bun:"html_url,unique" json:"html_url,omitempty"`
	OwnerID                int64      `bun:"owner_id,notnull" json:"owner_id"`
	Owner                  *User      `bun:"rel:belongs-to,join:owner_id=id" json:"owner,omitempty"`
	OrgID                  *int64     `bun:"org_id" json:"org_id,omitempty"`
	Org                    *Org       `bun:"rel:belongs-to,join:org_id=id" json:"org,omitempty"`
	ForkSourceID           *int64     `bun:"fork_source_id" json:"fork_source_id,omitempty"`
	Size                   int64      `bun:"size,notnull,default:0" json:"size"`
	Disabled               bool       `bun:"disabled,notnull,default:false" json:"disabled"`
	CollaboratorsSynced    *time.Time `bun:"collaborators_synced" json:"collaborators_synced,omitempty"`
	LastPollingCheck       *time.Time `bun:"last_polling_check" json:"last_polling_check,omitempty"`
	CreatedAt              time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	ModifiedAt             time.Time  `bun:"modified_at,nullzero,notnull,default:current_timestamp" json:"modified_at"`
}

func (r *Repo) String() string {
	return r.RepoName
}

// OwnerLogin is the owner part of the repo's full name
func (r *Repo) OwnerLogin() string {
	owner, _, _ := strings.Cut(r.RepoName, "/")
	return owner
}

// Name is the repository part of the repo's full name
func (r *Repo) Name() string {
	_, name, _ := strings.Cut(r.RepoName, "/")
	return name
}

// IsOrgRepo reports whether the repo belongs to an organization
func (r *Repo) IsOrgRepo() bool {
	return r.OrgID != nil
}

// IsReminderCandidate reports whether the repo is due for a reminder. Repos
// never polled are always due; otherwise a 30 second buffer is subtracted
// from the reminder period so hourly jobs do not drift past it.
func (r *Repo) IsReminderCandidate(now time.Time, reminderPeriod time.Duration) bool {
	if r.LastPollingCheck == nil {
		return true
	}
	return r.LastPollingCheck.Add(reminderPeriod - 30*time.Second).Before(now)
}

// SetClassification updates the classification and stamps the modification
// time. It reports whether anything changed.
func (r *Repo) SetClassification(classification *string, now time.Time) bool {
	if equalStringPtr(r.Classification, classification) {
		return false
	}
	r.Classification = classification
	r.ClassificationModified = now
	return true
}

// OrgMember links users to the orgs they belong to
type OrgMember struct {
	bun.BaseModel `bun:"table:org_members,alias:om"`

	OrgID  int64 `bun:"org_id,pk"`
	UserID int64 `bun:"user_id,pk"`
}

// TeamMember links users to teams
type TeamMember struct {
	bun.BaseModel `bun:"table:team_members,alias:tm"`

	TeamID int64 `bun:"team_id,pk"`
	UserID int64 `bun:"user_id,pk"`
}

// TeamRepo links teams to the repos they can access
type TeamRepo struct {
	bun.BaseModel `bun:"table:team_repos,alias:tr"`

	TeamID int64 `bun:"team_id,pk"`
	RepoID int64 `bun:"repo_id,pk"`
}

// RepoCollaborator links repos to their collaborators
type RepoCollaborator struct {
	bun.BaseModel `bun:"table:repo_collaborators,alias:rc"`

	RepoID int64 `bun:"repo_id,pk"`
	UserID int64 `bun:"user_id,pk"`
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
