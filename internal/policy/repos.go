package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	gh "github.com/google/go-github/v71/github"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/lei/ghe-policy-check/internal/github"
	"github.com/lei/ghe-policy-check/internal/models"
)

// Classification returns the first topic that is a configured classification
func (s *Service) Classification(topics []string) *string {
	known := s.policy.ClassificationTopics()
	for _, topic := range topics {
		if slices.Contains(known, topic) {
			return &topic
		}
	}
	return nil
}

// IsNonCompliant reports whether a classified repo breaks a non-compliance rule
func (s *Service) IsNonCompliant(repo *models.Repo) bool {
	if repo.Classification == nil {
		return false
	}
	for _, rule := range s.policy.NonCompliant {
		if rule.Classification == *repo.Classification && rule.Visibility == string(repo.Visibility) {
			return true
		}
	}
	return false
}

// SaveRepository mirrors a GitHub repository. Org repos are owned by the
// org's owner; user repos by the user.
func (s *Service) SaveRepository(ctx context.Context, ghRepo *gh.Repository) (*models.Repo, error) {
	if ghRepo == nil {
		return nil, fmt.Errorf("policy: payload has no repository")
	}

	repo := &models.Repo{
		RepoName:    ghRepo.GetFullName(),
		Description: ghRepo.Description,
		GitHubID:    ghRepo.GetID(),
		Visibility:  visibility(ghRepo),
		HTMLURL:     ghRepo.HTMLURL,
		Size:        int64(ghRepo.GetSize()),
		Disabled:    ghRepo.GetDisabled(),
	}

	owner := ghRepo.GetOwner()
	if owner.GetType() == "Organization" {
		org, err := s.EnsureOrg(ctx, owner.GetID(), owner.GetLogin())
		if err != nil {
			return nil, err
		}
		repo.OrgID = &org.ID
		repo.OwnerID = org.OwnerID
	} else {
		user, err := s.EnsureUser(ctx, owner)
		if err != nil {
			return nil, err
		}
		repo.OwnerID = user.ID
	}

	if err := s.store.SaveRepo(ctx, repo); err != nil {
		return nil, err
	}

	if repo.SetClassification(s.Classification(ghRepo.Topics), s.now()) {
		if err := s.store.UpdateRepo(ctx, repo, "classification", "classification_modified"); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// GitHubRepo fetches repo from GitHub as its owner, so private repos are visible
func (s *Service) GitHubRepo(ctx context.Context, repo *models.Repo) (*gh.Repository, error) {
	client, err := s.clients.Admin()
	if err != nil {
		return nil, err
	}

	var ghRepo *gh.Repository
	err = client.ImpersonateUser(ctx, repo.Owner.Username, func(c *github.Client) error {
		var fetchErr error
		ghRepo, fetchErr = c.RepoByID(ctx, repo.GitHubID)
		return fetchErr
	})
	return ghRepo, err
}

// githubRepoOrDisable is GitHubRepo with blocked repos marked disabled.
// It returns a nil repository for blocked repos.
func (s *Service) githubRepoOrDisable(ctx context.Context, repo *models.Repo) (*gh.Repository, error) {
	ghRepo, err := s.GitHubRepo(ctx, repo)
	if errors.Is(err, github.ErrRepositoryBlocked) {
		repo.Disabled = true
		return nil, s.store.UpdateRepo(ctx, repo, "disabled")
	}
	return ghRepo, err
}

// GetAndUpdateRepo refreshes repo from GitHub and stamps its polling check.
// Repos GitHub no longer knows are deleted; an org repo is first retried
// with the org's current owner in case the stored owner lost access. It
// returns nil when there is nothing left to remind.
func (s *Service) GetAndUpdateRepo(ctx context.Context, repo *models.Repo, checked time.Time) (*gh.Repository, error) {
	log := s.log(ctx).With("repo", repo.RepoName)
	log.Debug("policy: updating repo")

	repo.LastPollingCheck = &checked
	if err := s.store.UpdateRepo(ctx, repo, "last_polling_check"); err != nil {
		return nil, err
	}

	ghRepo, err := s.githubRepoOrDisable(ctx, repo)
	if errors.Is(err, github.ErrNotFound) {
		if !repo.IsOrgRepo() || repo.Org == nil {
			log.Info("policy: user repo not found, deleting", "github_id", repo.GitHubID)
			return nil, s.DeleteRepository(ctx, repo.GitHubID)
		}

		owner, ownerErr := s.OrgOwner(ctx, repo.Org.OrgName)
		if ownerErr != nil {
			return nil, ownerErr
		}
		repo.OwnerID = owner.ID
		repo.Owner = owner

		ghRepo, err = s.githubRepoOrDisable(ctx, repo)
		if errors.Is(err, github.ErrNotFound) {
			log.Info("policy: org repo not found, deleting", "github_id", repo.GitHubID)
			return nil, s.DeleteRepository(ctx, repo.GitHubID)
		}
	}
	if err != nil {
		return nil, err
	}
	if ghRepo == nil {
		return nil, nil
	}

	repo.RepoName = ghRepo.GetFullName()
	repo.Size = int64(ghRepo.GetSize())
	repo.Description = ghRepo.Description
	repo.SetClassification(s.Classification(ghRepo.Topics), s.now())
	repo.Visibility = visibility(ghRepo)
	repo.Disabled = ghRepo.GetDisabled()
	repo.HTMLURL = ghRepo.HTMLURL

	err = s.store.UpdateRepo(ctx, repo,
		"repo_name",
		"size",
		"description",
		"classification",
		"classification_modified",
		"visibility",
		"disabled",
		"html_url",
		"owner_id")
	if err != nil {
		return nil, err
	}
	return ghRepo, nil
}

// RemindRepo tags an unclassified or non-compliant repo with the matching
// reminder topic. GitHub failures are logged and otherwise ignored.
func (s *Service) RemindRepo(ctx context.Context, repo *models.Repo, ghRepo *gh.Repository) {
	log := s.log(ctx).With("repo", repo.RepoName)
	log.Info("policy: reminding repo")

	var topics []string
	switch {
	case repo.Classification == nil:
		topics = []string{s.policy.NotClassifiedTopic}
	case s.IsNonCompliant(repo):
		topics = []string{s.policy.NonCompliantTopic}
	default:
		return
	}

	client, err := s.clients.Admin()
	if err != nil {
		log.Error("policy: failed to build client", "error", err)
		return
	}

	err = client.ImpersonateUser(ctx, repo.Owner.Username, func(c *github.Client) error {
		_, err := c.AddRepositoryTopics(ctx, ghRepo.GetOwner().GetLogin(), ghRepo.GetName(), topics)
		return err
	})
	if err != nil {
		log.Warn("policy: failed to add reminder topics",
			"topics", topics,
			"error", err)
	}
}

// PollingRepos returns this run's share of repos, least recently checked first
func (s *Service) PollingRepos(ctx context.Context) ([]*models.Repo, error) {
	count, err := s.store.CountRepos(ctx)
	if err != nil {
		return nil, err
	}
	limit := s.share(count)
	if limit == 0 {
		return nil, nil
	}
	return s.store.ReposForPolling(ctx, limit)
}

// RunPolling refreshes this run's share of repos and reminds the ones due.
// Failures are collected so one repo cannot stop the run.
func (s *Service) RunPolling(ctx context.Context) error {
	repos, err := s.PollingRepos(ctx)
	if err != nil {
		return err
	}

	log := s.log(ctx)
	log.Info("policy: polling repos", "count", len(repos))

	now := s.now()
	reminderPeriod := s.polling.ReminderPeriod()

	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	if s.polling.Concurrency > 0 {
		g.SetLimit(s.polling.Concurrency)
	}

	for _, repo := range repos {
		needsReminder := repo.IsReminderCandidate(now, reminderPeriod)
		g.Go(func() error {
			ghRepo, err := s.GetAndUpdateRepo(gctx, repo, now)
			if err != nil {
				log.Error("policy: failed to update repo",
					"repo", repo.RepoName,
					"error", err)
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", repo.RepoName, err))
				mu.Unlock()
				return nil
			}
			if ghRepo != nil && needsReminder {
				s.RemindRepo(gctx, repo, ghRepo)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errs
}

func visibility(ghRepo *gh.Repository) models.Visibility {
	if v := ghRepo.GetVisibility(); v != "" {
		return models.ParseVisibility(v)
	}
	if ghRepo.GetPrivate() {
		return models.VisibilityPrivate
	}
	return models.VisibilityPublic
}
