// Package postgres provides a PostgreSQL-backed group store on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bryanwahyu/grups/src/domain/group"
	"github.com/bryanwahyu/grups/src/domain/shared"
)

// Store persists groups and memberships in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Config is the connection configuration.
type Config struct {
	DSN            string
	MaxConns       int32
	ConnectTimeout time.Duration
}

// Open connects the pool, verifies it and applies migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", shared.ErrUnavailable, err)
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrUnavailable, err)
	}
	return nil
}

// Begin starts a read-committed transaction; the (name, creator) unique constraint
// serializes concurrent creations of the same group.
func (s *Store) Begin(ctx context.Context) (group.Tx, error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", shared.ErrUnavailable, err)
	}
	return &tx{pgTx: pgTx}, nil
}

func (s *Store) FindGroups(ctx context.Context, name string, creator shared.UserID) ([]group.Group, error) {
	return findGroups(ctx, s.pool, name, creator)
}

func (s *Store) ListMembers(ctx context.Context, groupID shared.GroupID) ([]group.Membership, error) {
	return listMembers(ctx, s.pool, groupID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type tx struct {
	pgTx pgx.Tx
}

func (t *tx) FindGroups(ctx context.Context, name string, creator shared.UserID) ([]group.Group, error) {
	return findGroups(ctx, t.pgTx, name, creator)
}

func (t *tx) ListMembers(ctx context.Context, groupID shared.GroupID) ([]group.Membership, error) {
	return listMembers(ctx, t.pgTx, groupID)
}

func (t *tx) InsertGroup(ctx context.Context, g group.Group) (group.Group, error) {
	var id int64
	err := t.pgTx.QueryRow(ctx,
		`INSERT INTO grups (name, creator, created_at) VALUES ($1, $2, $3) RETURNING id`,
		g.Name, string(g.CreatorID), g.CreatedAt,
	).Scan(&id)
	if err != nil {
		return group.Group{}, classify("insert group", err)
	}
	g.ID = shared.GroupID(id)
	return g, nil
}

func (t *tx) InsertMembership(ctx context.Context, m group.Membership) error {
	_, err := t.pgTx.Exec(ctx,
		`INSERT INTO group_assigned_users (group_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		int64(m.GroupID), string(m.UserID), string(m.Role), m.JoinedAt,
	)
	if err != nil {
		return classify("insert membership", err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.pgTx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if err := t.pgTx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func findGroups(ctx context.Context, q querier, name string, creator shared.UserID) ([]group.Group, error) {
	rows, err := q.Query(ctx,
		`SELECT id, name, creator, created_at FROM grups WHERE name = $1 AND creator = $2 ORDER BY id`,
		name, string(creator),
	)
	if err != nil {
		return nil, classify("select groups", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (group.Group, error) {
		var (
			g         group.Group
			id        int64
			creatorID string
		)
		if err := row.Scan(&id, &g.Name, &creatorID, &g.CreatedAt); err != nil {
			return group.Group{}, err
		}
		g.ID = shared.GroupID(id)
		g.CreatorID = shared.UserID(creatorID)
		g.CreatedAt = g.CreatedAt.UTC()
		return g, nil
	})
	if err != nil {
		return nil, classify("select groups", err)
	}
	return out, nil
}

func listMembers(ctx context.Context, q querier, groupID shared.GroupID) ([]group.Membership, error) {
	rows, err := q.Query(ctx,
		`SELECT group_id, user_id, role, joined_at FROM group_assigned_users WHERE group_id = $1 ORDER BY joined_at, user_id`,
		int64(groupID),
	)
	if err != nil {
		return nil, classify("select memberships", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (group.Membership, error) {
		var (
			m      group.Membership
			gid    int64
			userID string
			role   string
		)
		if err := row.Scan(&gid, &userID, &role, &m.JoinedAt); err != nil {
			return group.Membership{}, err
		}
		m.GroupID = shared.GroupID(gid)
		m.UserID = shared.UserID(userID)
		m.Role = group.Role(role)
		m.JoinedAt = m.JoinedAt.UTC()
		return m, nil
	})
	if err != nil {
		return nil, classify("select memberships", err)
	}
	return out, nil
}

// classify maps driver errors onto the shared storage sentinels.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, shared.ErrDuplicate, pgErr.ConstraintName)
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return fmt.Errorf("%s: %w: %v", op, shared.ErrUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%s: %w: %v", op, shared.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ group.Store = (*Store)(nil)
