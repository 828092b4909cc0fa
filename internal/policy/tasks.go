package policy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lei/ghe-policy-check/internal/github"
	"github.com/lei/ghe-policy-check/internal/store"
)

// Go runs fn in the background, detached from the cancellation of ctx but
// not from the service's: Shutdown cancels tasks that are still running.
// Deliveries can arrive out of order, so a task failing with
// store.ErrNotFound is retried with exponential backoff.
func (s *Service) Go(ctx context.Context, name string, fn func(context.Context) error) {
	ctx, cancel := s.detach(ctx)
	log := s.log(ctx).With("task", name)

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer cancel()

		attempt := 0
		operation := func() error {
			attempt++
			err := fn(ctx)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		notify := func(err error, wait time.Duration) {
			log.Info("policy: retrying task",
				"attempt", attempt,
				"backoff", wait,
				"error", err)
		}

		if err := backoff.RetryNotify(operation, s.taskBackOff(ctx), notify); err != nil {
			log.Error("policy: task failed",
				"attempt", attempt,
				"error", err)
			return
		}
		log.Debug("policy: task finished", "attempt", attempt)
	}()
}

// taskBackOff doubles the wait from taskBackoff for at most taskAttempts
// runs and stops waiting as soon as ctx is done.
func (s *Service) taskBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.taskBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.taskBackoff << max(s.taskAttempts-1, 0)
	b.MaxElapsedTime = 0

	retries := uint64(max(s.taskAttempts-1, 0))
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// detach returns a context carrying the values of ctx that is cancelled only
// when the service shuts down. Call the returned func once the work is done.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.stop, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Wait blocks until every background task has finished
func (s *Service) Wait() {
	s.tasks.Wait()
}

// Shutdown waits for background tasks until ctx is done, then cancels the
// ones still running and waits for them to return. Tasks started after
// Shutdown begins run with a cancelled context.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.stopTasks()
		return nil
	case <-ctx.Done():
		s.log(ctx).Warn("policy: cancelling background tasks")
		s.stopTasks()
		<-done
		return ctx.Err()
	}
}

// DeleteRepository removes the mirrored repo with githubID
func (s *Service) DeleteRepository(ctx context.Context, githubID int64) error {
	repo, err := s.store.DeleteRepo(ctx, githubID)
	if err != nil {
		return err
	}
	s.log(ctx).Info("policy: deleted repo", "repo", repo.RepoName)
	return nil
}

// AddMembership adds a user to a team and to the collaborators of the team's
// repos, since GitHub sends no member event for access gained through a team.
func (s *Service) AddMembership(ctx context.Context, teamGitHubID, userGitHubID int64) error {
	user, err := s.store.GetUser(ctx, userGitHubID)
	if err != nil {
		return err
	}
	team, err := s.store.GetTeam(ctx, teamGitHubID)
	if err != nil {
		return err
	}

	if err := s.store.AddMembership(ctx, team.ID, user.ID); err != nil {
		return err
	}
	s.log(ctx).Info("policy: added team membership",
		"user", user.Username,
		"team", team.TeamName)
	return nil
}

// AddOrgMember adds a user to an org and resyncs the collaborators of every
// repo in the org.
func (s *Service) AddOrgMember(ctx context.Context, orgGitHubID, userGitHubID int64) error {
	org, err := s.store.GetOrg(ctx, orgGitHubID)
	if err != nil {
		return err
	}
	user, err := s.store.GetUser(ctx, userGitHubID)
	if err != nil {
		return err
	}

	if err := s.store.AddOrgMember(ctx, org.ID, user.ID); err != nil {
		return err
	}

	if err := s.syncOrgRepos(ctx, org.ID); err != nil {
		return err
	}

	s.log(ctx).Info("policy: added org member",
		"user", user.Username,
		"org", org.OrgName)
	return nil
}

// syncOrgRepos queues a collaborator sync for every repo in the org
func (s *Service) syncOrgRepos(ctx context.Context, orgID int64) error {
	repos, err := s.store.OrgRepos(ctx, orgID)
	if err != nil {
		return err
	}
	for _, repo := range repos {
		s.queueCollaboratorSync(ctx, repo.GitHubID)
	}
	return nil
}

// queueCollaboratorSync runs SyncRepoCollaborators in the background, stamped
// with the time the sync was requested.
func (s *Service) queueCollaboratorSync(ctx context.Context, githubID int64) {
	sent := s.now()
	s.Go(ctx, "sync-repo-collaborators", func(ctx context.Context) error {
		err := s.SyncRepoCollaborators(ctx, githubID, sent)
		if errors.Is(err, github.ErrNotFound) {
			s.log(ctx).Info("policy: could not access repo", "github_id", githubID)
			return nil
		}
		return err
	})
}
