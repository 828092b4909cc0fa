package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	gh "github.com/google/go-github/v71/github"
	"go.uber.org/multierr"

	"github.com/lei/ghe-policy-check/internal/github"
	"github.com/lei/ghe-policy-check/internal/models"
	"github.com/lei/ghe-policy-check/internal/store"
)

// UnsuspendForForkInventory is recorded when a repo owner is unsuspended to list forks
const UnsuspendForForkInventory = "Temporary unsuspension to inventory forks."

// CreatedLayout is the accepted format of the sync-forks created filter
const CreatedLayout = "2006-01-02T15:04:05Z"

// CleanRepos refreshes the visibility of every mirrored repo and deletes the
// ones their owner can no longer see. Blocked repos are left alone.
func (s *Service) CleanRepos(ctx context.Context) error {
	repos, err := s.store.Repos(ctx, time.Time{})
	if err != nil {
		return err
	}
	client, err := s.clients.Admin()
	if err != nil {
		return err
	}

	log := s.log(ctx)

	var errs error
	for _, repo := range repos {
		var ghRepo *gh.Repository
		err := client.ImpersonateUser(ctx, repo.Owner.Username, func(c *github.Client) error {
			var fetchErr error
			ghRepo, fetchErr = c.Repo(ctx, repo.OwnerLogin(), repo.Name())
			return fetchErr
		})

		switch {
		case errors.Is(err, github.ErrRepositoryBlocked):
			continue
		case errors.Is(err, github.ErrNotFound):
			log.Info("policy: repo no longer accessible, deleting", "repo", repo.RepoName)
			if err := s.DeleteRepository(ctx, repo.GitHubID); err != nil {
				errs = multierr.Append(errs, err)
			}
			continue
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", repo.RepoName, err))
			continue
		}

		repo.Visibility = visibility(ghRepo)
		if err := s.store.UpdateRepo(ctx, repo, "visibility"); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// SyncForks links every mirrored fork to its source repo. A non-zero created
// restricts the scan to source repos created at or after it.
func (s *Service) SyncForks(ctx context.Context, created time.Time) error {
	repos, err := s.store.Repos(ctx, created)
	if err != nil {
		return err
	}
	client, err := s.clients.Admin()
	if err != nil {
		return err
	}

	var errs error
	for _, repo := range repos {
		if err := s.addForks(ctx, client, repo); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", repo.RepoName, err))
		}
	}
	return errs
}

// ParseCreated parses the sync-forks created filter; an empty value means no filter
func ParseCreated(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(CreatedLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("created %q is not ISO-8601 (%s): %w", value, CreatedLayout, err)
	}
	return t.UTC(), nil
}

func (s *Service) addForks(ctx context.Context, client *github.Client, repo *models.Repo) error {
	forks, err := s.repoForks(ctx, client, repo)
	if errors.Is(err, github.ErrClient) {
		forks, err = s.repoForks(ctx, client, repo)
	}
	if err != nil {
		return err
	}

	log := s.log(ctx)
	for _, fork := range forks {
		local, err := s.store.GetRepoByName(ctx, fork.GetFullName())
		if errors.Is(err, store.ErrNotFound) {
			log.Error("policy: fork not mirrored",
				"fork", fork.GetFullName(),
				"source", repo.RepoName)
			continue
		}
		if err != nil {
			return err
		}

		local.ForkSourceID = &repo.ID
		if err := s.store.UpdateRepo(ctx, local, "fork_source_id"); err != nil {
			return err
		}
	}
	return nil
}

// repoForks lists the forks of repo as its owner. Blocked and missing repos
// have no forks.
func (s *Service) repoForks(ctx context.Context, client *github.Client, repo *models.Repo) ([]*gh.Repository, error) {
	var forks []*gh.Repository
	err := client.ImpersonateUserFor(ctx, repo.Owner.Username, UnsuspendForForkInventory, func(c *github.Client) error {
		var listErr error
		forks, listErr = github.Collect(c.RepositoryForks(ctx, repo.OwnerLogin(), repo.Name()))
		return listErr
	})
	if errors.Is(err, github.ErrRepositoryBlocked) || errors.Is(err, github.ErrNotFound) {
		return nil, nil
	}
	return forks, err
}
