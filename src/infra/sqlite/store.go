// Package sqlite provides a SQLite-backed group store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/bryanwahyu/grups/src/domain/group"
	"github.com/bryanwahyu/grups/src/domain/shared"
)

// Store persists groups and memberships in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite group store and applies embedded migrations.
// Transactions take the write lock up front so concurrent creations queue on busy_timeout.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping sqlite db: %v", shared.ErrUnavailable, err)
	}
	if err := RunMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrUnavailable, err)
	}
	return nil
}

// Begin starts an immediate transaction.
func (s *Store) Begin(ctx context.Context) (group.Tx, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("%w: storage is not configured", shared.ErrUnavailable)
	}
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", shared.ErrUnavailable, err)
	}
	return &tx{sqlTx: sqlTx}, nil
}

func (s *Store) FindGroups(ctx context.Context, name string, creator shared.UserID) ([]group.Group, error) {
	return findGroups(ctx, s.sqlDB, name, creator)
}

func (s *Store) ListMembers(ctx context.Context, groupID shared.GroupID) ([]group.Membership, error) {
	return listMembers(ctx, s.sqlDB, groupID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type tx struct {
	sqlTx *sql.Tx
}

func (t *tx) FindGroups(ctx context.Context, name string, creator shared.UserID) ([]group.Group, error) {
	return findGroups(ctx, t.sqlTx, name, creator)
}

func (t *tx) ListMembers(ctx context.Context, groupID shared.GroupID) ([]group.Membership, error) {
	return listMembers(ctx, t.sqlTx, groupID)
}

func (t *tx) InsertGroup(ctx context.Context, g group.Group) (group.Group, error) {
	var id int64
	err := t.sqlTx.QueryRowContext(ctx,
		`INSERT INTO grups (name, creator, created_at) VALUES (?, ?, ?) RETURNING id`,
		g.Name, string(g.CreatorID), toMillis(g.CreatedAt),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return group.Group{}, fmt.Errorf("insert group: %w", shared.ErrDuplicate)
		}
		return group.Group{}, fmt.Errorf("insert group: %w", err)
	}
	g.ID = shared.GroupID(id)
	return g, nil
}

func (t *tx) InsertMembership(ctx context.Context, m group.Membership) error {
	_, err := t.sqlTx.ExecContext(ctx,
		`INSERT INTO group_assigned_users (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
		int64(m.GroupID), string(m.UserID), string(m.Role), toMillis(m.JoinedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert membership: %w", shared.ErrDuplicate)
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.sqlTx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return err
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if err := t.sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func findGroups(ctx context.Context, q querier, name string, creator shared.UserID) ([]group.Group, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, creator, created_at FROM grups WHERE name = ? AND creator = ? ORDER BY id`,
		name, string(creator),
	)
	if err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	defer rows.Close()

	var out []group.Group
	for rows.Next() {
		var (
			g         group.Group
			id        int64
			creatorID string
			createdAt int64
		)
		if err := rows.Scan(&id, &g.Name, &creatorID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.ID = shared.GroupID(id)
		g.CreatorID = shared.UserID(creatorID)
		g.CreatedAt = fromMillis(createdAt)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	return out, nil
}

func listMembers(ctx context.Context, q querier, groupID shared.GroupID) ([]group.Membership, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT group_id, user_id, role, joined_at FROM group_assigned_users WHERE group_id = ? ORDER BY joined_at, user_id`,
		int64(groupID),
	)
	if err != nil {
		return nil, fmt.Errorf("select memberships: %w", err)
	}
	defer rows.Close()

	var out []group.Membership
	for rows.Next() {
		var (
			gid      int64
			userID   string
			role     string
			joinedAt int64
		)
		if err := rows.Scan(&gid, &userID, &role, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, group.Membership{
			GroupID:  shared.GroupID(gid),
			UserID:   shared.UserID(userID),
			Role:     group.Role(role),
			JoinedAt: fromMillis(joinedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select memberships: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ group.Store = (*Store)(nil)
