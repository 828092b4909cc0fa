package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	gh "github.com/google/go-github/v71/github"

	"github.com/lei/ghe-policy-check/internal/models"
	"github.com/lei/ghe-policy-check/internal/store"
)

// OrgOwner returns the user that acts for org: the first org admin other
// than the global owner user, or the global owner user when the org has no
// other admin. Concurrent lookups for the same org share one listing, which
// outlives any single caller's cancellation.
func (s *Service) OrgOwner(ctx context.Context, org string) (*models.User, error) {
	ch := s.owners.DoChan(org, func() (any, error) {
		lookupCtx, cancel := s.detach(ctx)
		defer cancel()
		return s.orgOwner(lookupCtx, org)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.User), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) orgOwner(ctx context.Context, org string) (*models.User, error) {
	client, err := s.clients.Owner()
	if err != nil {
		return nil, err
	}

	for admin, err := range client.OrganizationAdmins(ctx, org) {
		if err != nil {
			return nil, fmt.Errorf("list admins of %s: %w", org, err)
		}
		if admin.GetLogin() == s.ownerUser {
			continue
		}
		return s.EnsureUser(ctx, admin)
	}

	user, err := s.store.GetUserByUsername(ctx, s.ownerUser)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info("policy: using global owner for org", "org", org)
	return user, nil
}

// EnsureUser mirrors a GitHub user
func (s *Service) EnsureUser(ctx context.Context, user *gh.User) (*models.User, error) {
	if user == nil {
		return nil, fmt.Errorf("policy: payload has no user")
	}
	return s.store.EnsureUser(ctx, user.GetID(), user.GetLogin(), suspendedAt(user))
}

// EnsureOrg mirrors a GitHub org, resolving its owner when the org is new
func (s *Service) EnsureOrg(ctx context.Context, githubID int64, login string) (*models.Org, error) {
	org, err := s.store.GetOrg(ctx, githubID)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	owner, err := s.OrgOwner(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("owner of %s: %w", login, err)
	}
	return s.store.EnsureOrg(ctx, githubID, login, owner.ID)
}

func suspendedAt(user *gh.User) *time.Time {
	if user.SuspendedAt == nil {
		return nil
	}
	t := user.SuspendedAt.Time.UTC()
	return &t
}
