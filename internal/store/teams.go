package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/lei/ghe-policy-check/internal/models"
)

// EnsureTeam returns the team with githubID, creating it in orgID if missing
func (s *Store) EnsureTeam(ctx context.Context, githubID int64, name, slug string, orgID int64) (*models.Team, error) {
	team, err := s.GetTeam(ctx, githubID)
	if err == nil {
		return team, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := s.now()
	team = &models.Team{
		GitHubID:   githubID,
		TeamName:   name,
		TeamSlug:   slug,
		OrgID:      orgID,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if _, err := s.db.NewInsert().Model(team).Exec(ctx); err != nil {
		if existing, getErr := s.GetTeam(ctx, githubID); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("store: create team %s: %w", name, err)
	}
	return s.GetTeam(ctx, githubID)
}

// GetTeam returns the team with githubID and its org
func (s *Store) GetTeam(ctx context.Context, githubID int64) (*models.Team, error) {
	team := new(models.Team)
	err := s.db.NewSelect().
		Model(team).
		Relation("Org").
		Where("?TableAlias.github_id = ?", githubID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return team, nil
}

// AddTeamMember adds userID to teamID; existing memberships are kept
func (s *Store) AddTeamMember(ctx context.Context, teamID, userID int64) error {
	_, err := s.db.NewInsert().
		Model(&models.TeamMember{TeamID: teamID, UserID: userID}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: add team member: %w", err)
	}
	return nil
}

// RemoveTeamMember removes userID from teamID
func (s *Store) RemoveTeamMember(ctx context.Context, teamID, userID int64) error {
	_, err := s.db.NewDelete().
		Model((*models.TeamMember)(nil)).
		Where("team_id = ?", teamID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: remove team member: %w", err)
	}
	return nil
}

// TeamMembers returns the members of teamID
func (s *Store) TeamMembers(ctx context.Context, teamID int64) ([]*models.User, error) {
	var users []*models.User
	err := s.db.NewSelect().
		Model(&users).
		Join("JOIN team_members AS tm ON tm.user_id = ?TableAlias.id").
		Where("tm.team_id = ?", teamID).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: team members: %w", err)
	}
	return users, nil
}

// AddTeamRepo grants teamID access to repoID
func (s *Store) AddTeamRepo(ctx context.Context, teamID, repoID int64) error {
	_, err := s.db.NewInsert().
		Model(&models.TeamRepo{TeamID: teamID, RepoID: repoID}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: add team repo: %w", err)
	}
	return nil
}

// RemoveTeamRepo revokes teamID's access to repoID
func (s *Store) RemoveTeamRepo(ctx context.Context, teamID, repoID int64) error {
	_, err := s.db.NewDelete().
		Model((*models.TeamRepo)(nil)).
		Where("team_id = ?", teamID).
		Where("repo_id = ?", repoID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: remove team repo: %w", err)
	}
	return nil
}

// TeamRepos returns the repos teamID has access to
func (s *Store) TeamRepos(ctx context.Context, teamID int64) ([]*models.Repo, error) {
	var repos []*models.Repo
	err := s.db.NewSelect().
		Model(&repos).
		Relation("Owner").
		Join("JOIN team_repos AS tr ON tr.repo_id = ?TableAlias.id").
		Where("tr.team_id = ?", teamID).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: team repos: %w", err)
	}
	return repos, nil
}

// AddMembership adds userID to teamID and to the collaborators of every
// repo the team can access, in one transaction.
func (s *Store) AddMembership(ctx context.Context, teamID, userID int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&models.TeamMember{TeamID: teamID, UserID: userID}).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("store: add team member: %w", err)
		}

		var repoIDs []int64
		err = tx.NewSelect().
			Model((*models.TeamRepo)(nil)).
			Column("repo_id").
			Where("team_id = ?", teamID).
			Scan(ctx, &repoIDs)
		if err != nil {
			return fmt.Errorf("store: team repo ids: %w", err)
		}

		for _, repoID := range repoIDs {
			_, err := tx.NewInsert().
				Model(&models.RepoCollaborator{RepoID: repoID, UserID: userID}).
				On("CONFLICT DO NOTHING").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("store: add collaborator: %w", err)
			}
		}
		return nil
	})
}
