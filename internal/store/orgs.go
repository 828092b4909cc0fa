package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lei/ghe-policy-check/internal/models"
)

// EnsureOrg returns the org with githubID, creating it with ownerID if missing
func (s *Store) EnsureOrg(ctx context.Context, githubID int64, name string, ownerID int64) (*models.Org, error) {
	org, err := s.GetOrg(ctx, githubID)
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	org = &models.Org{
		OrgName:    name,
		GitHubID:   githubID,
		OwnerID:    ownerID,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if _, err := s.db.NewInsert().Model(org).Exec(ctx); err != nil {
		// a concurrent delivery may have created the org first
		if existing, getErr := s.GetOrg(ctx, githubID); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("store: create org %s: %w", name, err)
	}
	return s.GetOrg(ctx, githubID)
}

// GetOrg returns the org with githubID and its owner
func (s *Store) GetOrg(ctx context.Context, githubID int64) (*models.Org, error) {
	org := new(models.Org)
	err := s.db.NewSelect().
		Model(org).
		Relation("Owner").
		Where("?TableAlias.github_id = ?", githubID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return org, nil
}

// GetOrgByName returns the org with the given login
func (s *Store) GetOrgByName(ctx context.Context, name string) (*models.Org, error) {
	org := new(models.Org)
	err := s.db.NewSelect().
		Model(org).
		Relation("Owner").
		Where("?TableAlias.org_name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return org, nil
}

// AddOrgMember adds userID to orgID; existing memberships are kept
func (s *Store) AddOrgMember(ctx context.Context, orgID, userID int64) error {
	_, err := s.db.NewInsert().
		Model(&models.OrgMember{OrgID: orgID, UserID: userID}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: add org member: %w", err)
	}
	return nil
}

// RemoveOrgMember removes userID from orgID
func (s *Store) RemoveOrgMember(ctx context.Context, orgID, userID int64) error {
	_, err := s.db.NewDelete().
		Model((*models.OrgMember)(nil)).
		Where("org_id = ?", orgID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: remove org member: %w", err)
	}
	return nil
}

// OrgMembers returns the members of orgID
func (s *Store) OrgMembers(ctx context.Context, orgID int64) ([]*models.User, error) {
	var users []*models.User
	err := s.db.NewSelect().
		Model(&users).
		Join("JOIN org_members AS om ON om.user_id = ?TableAlias.id").
		Where("om.org_id = ?", orgID).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: org members: %w", err)
	}
	return users, nil
}

// OrgRepos returns the repos that belong to orgID
func (s *Store) OrgRepos(ctx context.Context, orgID int64) ([]*models.Repo, error) {
	var repos []*models.Repo
	err := s.db.NewSelect().
		Model(&repos).
		Relation("Owner").
		Where("?TableAlias.org_id = ?", orgID).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: org repos: %w", err)
	}
	return repos, nil
}
