package policy

import (
	"context"
	"errors"
	"time"

	gh "github.com/google/go-github/v71/github"

	"github.com/lei/ghe-policy-check/internal/github"
	"github.com/lei/ghe-policy-check/internal/models"
	"github.com/lei/ghe-policy-check/internal/store"
)

// SyncRepoCollaborators replaces the mirrored collaborators of the repo with
// githubID by the ones GitHub reports. GitHub fires bursts of events that
// each request a sync; a request sent before the repo's last sync started is
// skipped. A NotFound from an org repo is retried as the org owner, in case
// the stored owner lost access.
func (s *Service) SyncRepoCollaborators(ctx context.Context, githubID int64, sent time.Time) error {
	log := s.log(ctx)

	repo, skip, err := s.claimCollaboratorSync(ctx, githubID, sent)
	if err != nil || skip {
		return err
	}
	log = log.With("repo", repo.RepoName)
	log.Info("policy: syncing collaborators")

	collaborators, err := s.repoCollaborators(ctx, repo, 0)
	if errors.Is(err, github.ErrNotFound) {
		if !repo.IsOrgRepo() || repo.Org == nil {
			return err
		}

		owner, ownerErr := s.store.GetUserByID(ctx, repo.Org.OwnerID)
		if ownerErr != nil {
			return ownerErr
		}
		repo.OwnerID = owner.ID
		repo.Owner = owner
		if err := s.store.UpdateRepo(ctx, repo, "owner_id"); err != nil {
			return err
		}
		collaborators, err = s.repoCollaborators(ctx, repo, 0)
	}
	if err != nil {
		return err
	}

	if len(collaborators) == 0 {
		log.Info("policy: could not access collaborators")
		return nil
	}

	ids := make([]int64, 0, len(collaborators))
	for _, c := range collaborators {
		ids = append(ids, c.GetID())
	}
	users, err := s.store.UsersByGitHubIDs(ctx, ids)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceCollaborators(ctx, repo.ID, users); err != nil {
		return err
	}

	log.Info("policy: finished syncing collaborators", "collaborators", len(users))
	return nil
}

// SyncRepo syncs the collaborators of a mirrored repo on demand. It returns
// store.ErrNotFound when the repo is not mirrored.
func (s *Service) SyncRepo(ctx context.Context, githubID int64) (*models.Repo, error) {
	if _, err := s.store.GetRepo(ctx, githubID); err != nil {
		return nil, err
	}
	if err := s.SyncRepoCollaborators(ctx, githubID, s.now()); err != nil {
		return nil, err
	}
	return s.store.GetRepo(ctx, githubID)
}

// claimCollaboratorSync loads the repo and stamps its sync time under a
// per-repo lock. It reports skip when the repo is gone or was synced after
// sent.
func (s *Service) claimCollaboratorSync(ctx context.Context, githubID int64, sent time.Time) (*models.Repo, bool, error) {
	unlock := s.locks.Lock(githubID)
	defer unlock()

	log := s.log(ctx)

	repo, err := s.store.GetRepo(ctx, githubID)
	if errors.Is(err, store.ErrNotFound) {
		log.Error("policy: could not find repo", "github_id", githubID)
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	if repo.CollaboratorsSynced != nil && sent.Before(*repo.CollaboratorsSynced) {
		log.Info("policy: skipping collaborators sync", "repo", repo.RepoName)
		return nil, true, nil
	}

	now := s.now()
	repo.CollaboratorsSynced = &now
	if err := s.store.UpdateRepo(ctx, repo, "collaborators_synced"); err != nil {
		return nil, false, err
	}
	return repo, false, nil
}

// repoCollaborators lists the collaborators of repo as its owner. Blocked
// repos yield no collaborators. A suspension raised mid-listing, usually by
// a concurrent sync resuspending the same owner, is retried up to the
// configured limit.
func (s *Service) repoCollaborators(ctx context.Context, repo *models.Repo, retry int) ([]*gh.User, error) {
	client, err := s.clients.Admin()
	if err != nil {
		return nil, err
	}

	now := s.now()
	repo.CollaboratorsSynced = &now
	if err := s.store.UpdateRepo(ctx, repo, "collaborators_synced"); err != nil {
		return nil, err
	}

	var (
		collaborators []*gh.User
		listErr       error
	)
	err = client.ImpersonateUser(ctx, repo.Owner.Username, func(c *github.Client) error {
		collaborators, listErr = github.Collect(c.RepoCollaborators(ctx, repo.OwnerLogin(), repo.Name()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case listErr == nil:
		return collaborators, nil
	case errors.Is(listErr, github.ErrRepositoryBlocked):
		s.log(ctx).Info("policy: can't get collaborators for blocked repository", "repo", repo.RepoName)
		return nil, nil
	case errors.Is(listErr, github.ErrAccountSuspended):
		if retry < s.polling.MaxSyncRetry {
			return s.repoCollaborators(ctx, repo, retry+1)
		}
		return nil, nil
	default:
		return nil, listErr
	}
}
