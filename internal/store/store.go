package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/lei/ghe-policy-check/internal/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("store: not found")

// Store is the mirror of users, orgs, teams and repos
type Store struct {
	db  *bun.DB
	now func() time.Time
}

// Open connects to the database for driver (sqlite3 or postgres)
func Open(driver, dsn string) (*Store, error) {
	sqldb, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	var db *bun.DB
	switch driver {
	case "sqlite3":
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case "postgres":
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb.Close()
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	return New(db), nil
}

// New wraps an existing bun database
func New(db *bun.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the underlying bun database
func (s *Store) DB() *bun.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables
func (s *Store) Migrate(ctx context.Context) error {
	tables := []any{
		(*models.User)(nil),
		(*models.Org)(nil),
		(*models.Team)(nil),
		(*models.Repo)(nil),
		(*models.OrgMember)(nil),
		(*models.TeamMember)(nil),
		(*models.TeamRepo)(nil),
		(*models.RepoCollaborator)(nil),
	}
	for _, model := range tables {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("store: migrate %T: %w", model, err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
