package policy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/lei/ghe-policy-check/internal/github"
)

// SyncUsers refreshes the suspension state of this run's share of users,
// least recently synced first. The /users listing carries no suspension
// data, so each user is fetched on its own. Users deleted on GitHub are
// skipped.
func (s *Service) SyncUsers(ctx context.Context) error {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	limit := s.share(count)
	if limit == 0 {
		return nil
	}

	users, err := s.store.UsersForSync(ctx, limit)
	if err != nil {
		return err
	}

	client, err := s.clients.Admin()
	if err != nil {
		return err
	}

	log := s.log(ctx)
	now := s.now()

	var errs error
	for _, user := range users {
		log.Info("policy: syncing user", "user", user.Username)
		user.LastSynced = &now

		ghUser, err := client.User(ctx, user.Username)
		if errors.Is(err, github.ErrNotFound) {
			log.Debug("policy: user not found on github", "user", user.Username)
			if err := s.store.UpdateUser(ctx, user, "last_synced"); err != nil {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", user.Username, err))
			continue
		}

		user.SuspendedAt = suspendedAt(ghUser)
		if err := s.store.UpdateUser(ctx, user, "last_synced", "suspended_at"); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
