package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/lei/ghe-policy-check/internal/models"
)

// EnsureUser returns the user with githubID, creating it if missing. A
// stale row holding the same username is taken over, since GitHub logins
// are reused once an account is renamed or deleted.
func (s *Store) EnsureUser(ctx context.Context, githubID int64, username string, suspendedAt *time.Time) (*models.User, error) {
	user, err := s.GetUser(ctx, githubID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	user = new(models.User)
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(user).
			Where("?TableAlias.username = ?", username).
			Limit(1).
			Scan(ctx)
		switch {
		case err == nil:
			user.GitHubID = githubID
			user.SuspendedAt = suspendedAt
			user.ModifiedAt = now
			_, err = tx.NewUpdate().
				Model(user).
				Column("github_id", "suspended_at", "modified_at").
				WherePK().
				Exec(ctx)
			return err
		case errors.Is(err, sql.ErrNoRows):
			*user = models.User{
				Username:    username,
				GitHubID:    githubID,
				SuspendedAt: suspendedAt,
				CreatedAt:   now,
				ModifiedAt:  now,
			}
			_, err = tx.NewInsert().Model(user).Exec(ctx)
			return err
		default:
			return err
		}
	})
	if err != nil {
		// a concurrent delivery may have created the user first
		if existing, getErr := s.GetUser(ctx, githubID); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("store: ensure user %s: %w", username, err)
	}
	return s.GetUser(ctx, githubID)
}

// GetUser returns the user with githubID
func (s *Store) GetUser(ctx context.Context, githubID int64) (*models.User, error) {
	user := new(models.User)
	err := s.db.NewSelect().
		Model(user).
		Where("?TableAlias.github_id = ?", githubID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

// GetUserByID returns the user with the given primary key
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user := new(models.User)
	err := s.db.NewSelect().
		Model(user).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

// GetUserByUsername returns the user with the given login
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := new(models.User)
	err := s.db.NewSelect().
		Model(user).
		Where("?TableAlias.username = ?", username).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

// UsersByGitHubIDs returns the mirrored users among ids
func (s *Store) UsersByGitHubIDs(ctx context.Context, ids []int64) ([]*models.User, error) {
	var users []*models.User
	if len(ids) == 0 {
		return users, nil
	}
	err := s.db.NewSelect().
		Model(&users).
		Where("?TableAlias.github_id IN (?)", bun.In(ids)).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: users by github id: %w", err)
	}
	return users, nil
}

// UpdateUser writes the given columns of user
func (s *Store) UpdateUser(ctx context.Context, user *models.User, columns ...string) error {
	user.ModifiedAt = s.now()
	_, err := s.db.NewUpdate().
		Model(user).
		Column(append(columns, "modified_at")...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: update user %s: %w", user.Username, err)
	}
	return nil
}

// CountUsers returns the number of mirrored users
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*models.User)(nil)).Count(ctx)
}

// UsersForSync returns up to limit users, least recently synced first
func (s *Store) UsersForSync(ctx context.Context, limit int) ([]*models.User, error) {
	var users []*models.User
	err := s.db.NewSelect().
		Model(&users).
		OrderExpr("?TableAlias.last_synced ASC NULLS FIRST").
		OrderExpr("?TableAlias.id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: users for sync: %w", err)
	}
	return users, nil
}
