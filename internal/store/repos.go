package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/lei/ghe-policy-check/internal/models"
)

// mirroredRepoColumns are refreshed from GitHub on every save
var mirroredRepoColumns = []string{
	"repo_name",
	"description",
	"visibility",
	"html_url",
	"owner_id",
	"org_id",
	"size",
	"disabled",
	"modified_at",
}

// SaveRepo inserts repo or refreshes the GitHub-sourced columns of the row
// with the same github id. Policy state such as the classification and
// polling timestamps of an existing row is left alone. On return repo
// holds the stored row.
func (s *Store) SaveRepo(ctx context.Context, repo *models.Repo) error {
	now := s.now()
	if repo.Visibility == "" {
		repo.Visibility = models.VisibilityPrivate
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := new(models.Repo)
		err := tx.NewSelect().
			Model(existing).
			Column("id").
			Where("?TableAlias.github_id = ?", repo.GitHubID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if err = notFound(err); !errors.Is(err, ErrNotFound) {
				return err
			}

			// the name of a deleted repo may be reused by a new one
			_, err = tx.NewDelete().
				Model((*models.Repo)(nil)).
				Where("repo_name = ?", repo.RepoName).
				Exec(ctx)
			if err != nil {
				return err
			}

			repo.ID = 0
			repo.CreatedAt = now
			repo.ModifiedAt = now
			if repo.ClassificationModified.IsZero() {
				repo.ClassificationModified = now
			}
			_, err = tx.NewInsert().Model(repo).Exec(ctx)
			return err
		}

		repo.ID = existing.ID
		repo.ModifiedAt = now
		_, err = tx.NewUpdate().
			Model(repo).
			Column(mirroredRepoColumns...).
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: save repo %s: %w", repo.RepoName, err)
	}

	stored, err := s.GetRepo(ctx, repo.GitHubID)
	if err != nil {
		return err
	}
	*repo = *stored
	return nil
}

// GetRepo returns the repo with githubID, its owner and org
func (s *Store) GetRepo(ctx context.Context, githubID int64) (*models.Repo, error) {
	repo := new(models.Repo)
	err := s.db.NewSelect().
		Model(repo).
		Relation("Owner").
		Relation("Org").
		Where("?TableAlias.github_id = ?", githubID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return repo, nil
}

// GetRepoByName returns the repo with the given full name
func (s *Store) GetRepoByName(ctx context.Context, fullName string) (*models.Repo, error) {
	repo := new(models.Repo)
	err := s.db.NewSelect().
		Model(repo).
		Relation("Owner").
		Relation("Org").
		Where("?TableAlias.repo_name = ?", fullName).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return repo, nil
}

// UpdateRepo writes the given columns of repo
func (s *Store) UpdateRepo(ctx context.Context, repo *models.Repo, columns ...string) error {
	repo.ModifiedAt = s.now()
	_, err := s.db.NewUpdate().
		Model(repo).
		Column(append(columns, "modified_at")...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: update repo %s: %w", repo.RepoName, err)
	}
	return nil
}

// DeleteRepo removes the repo with githubID and its links. Forks of the repo
// are detached rather than deleted.
func (s *Store) DeleteRepo(ctx context.Context, githubID int64) (*models.Repo, error) {
	repo, err := s.GetRepo(ctx, githubID)
	if err != nil {
		return nil, err
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*models.RepoCollaborator)(nil)).
			Where("repo_id = ?", repo.ID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().
			Model((*models.TeamRepo)(nil)).
			Where("repo_id = ?", repo.ID).
			Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewUpdate().
			Model((*models.Repo)(nil)).
			Set("fork_source_id = NULL").
			Where("fork_source_id = ?", repo.ID).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*models.Repo)(nil)).
			Where("id = ?", repo.ID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: delete repo %s: %w", repo.RepoName, err)
	}
	return repo, nil
}

// CountRepos returns the number of mirrored repos
func (s *Store) CountRepos(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*models.Repo)(nil)).Count(ctx)
}

// ReposForPolling returns up to limit repos, least recently checked first
func (s *Store) ReposForPolling(ctx context.Context, limit int) ([]*models.Repo, error) {
	var repos []*models.Repo
	err := s.db.NewSelect().
		Model(&repos).
		Relation("Owner").
		Relation("Org").
		OrderExpr("?TableAlias.last_polling_check ASC NULLS FIRST").
		OrderExpr("?TableAlias.id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: repos for polling: %w", err)
	}
	return repos, nil
}

// Repos returns all repos in creation order. A non-zero since restricts the
// result to repos created at or after it.
func (s *Store) Repos(ctx context.Context, since time.Time) ([]*models.Repo, error) {
	var repos []*models.Repo
	q := s.db.NewSelect().
		Model(&repos).
		Relation("Owner").
		Relation("Org").
		OrderExpr("?TableAlias.created_at ASC").
		OrderExpr("?TableAlias.id ASC")
	if !since.IsZero() {
		q = q.Where("?TableAlias.created_at >= ?", since.UTC())
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("store: list repos: %w", err)
	}
	return repos, nil
}

// Collaborators returns the collaborators of repoID
func (s *Store) Collaborators(ctx context.Context, repoID int64) ([]*models.User, error) {
	var users []*models.User
	err := s.db.NewSelect().
		Model(&users).
		Join("JOIN repo_collaborators AS rc ON rc.user_id = ?TableAlias.id").
		Where("rc.repo_id = ?", repoID).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: collaborators: %w", err)
	}
	return users, nil
}

// AddCollaborator adds userID to the collaborators of repoID
func (s *Store) AddCollaborator(ctx context.Context, repoID, userID int64) error {
	_, err := s.db.NewInsert().
		Model(&models.RepoCollaborator{RepoID: repoID, UserID: userID}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: add collaborator: %w", err)
	}
	return nil
}

// RemoveCollaborator removes userID from the collaborators of repoID
func (s *Store) RemoveCollaborator(ctx context.Context, repoID, userID int64) error {
	_, err := s.db.NewDelete().
		Model((*models.RepoCollaborator)(nil)).
		Where("repo_id = ?", repoID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: remove collaborator: %w", err)
	}
	return nil
}

// ReplaceCollaborators sets the collaborators of repoID to exactly users
func (s *Store) ReplaceCollaborators(ctx context.Context, repoID int64, users []*models.User) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.RepoCollaborator)(nil)).
			Where("repo_id = ?", repoID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if len(users) == 0 {
			return nil
		}

		links := make([]models.RepoCollaborator, 0, len(users))
		for _, u := range users {
			links = append(links, models.RepoCollaborator{RepoID: repoID, UserID: u.ID})
		}
		_, err = tx.NewInsert().
			Model(&links).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: replace collaborators: %w", err)
	}
	return nil
}
