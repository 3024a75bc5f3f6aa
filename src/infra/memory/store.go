package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/bryanwahyu/grups/src/domain/group"
	"github.com/bryanwahyu/grups/src/domain/shared"
)

var errTxDone = errors.New("transaction already finished")

// Store implements group.Store in memory. A transaction holds the write lock from Begin
// until Commit or Rollback, so transactions are serialized.
type Store struct {
	mu          sync.RWMutex
	nextID      shared.GroupID
	groups      []group.Group
	memberships map[shared.GroupID][]group.Membership
	closed      bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		memberships: make(map[shared.GroupID][]group.Membership),
	}
}

// FindGroups returns committed groups matching (name, creator) in insertion order.
func (s *Store) FindGroups(ctx context.Context, name string, creator shared.UserID) ([]group.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, shared.ErrUnavailable
	}
	return s.findLocked(name, creator, nil), nil
}

// ListMembers returns committed memberships of a group.
func (s *Store) ListMembers(ctx context.Context, groupID shared.GroupID) ([]group.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, shared.ErrUnavailable
	}
	return append([]group.Membership(nil), s.memberships[groupID]...), nil
}

// Begin locks the store for a new transaction.
func (s *Store) Begin(ctx context.Context) (group.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, shared.ErrUnavailable
	}
	return &tx{store: s, staged: make(map[shared.GroupID][]group.Membership)}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return shared.ErrUnavailable
	}
	return nil
}

// Close makes every later call fail with shared.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) findLocked(name string, creator shared.UserID, staged []group.Group) []group.Group {
	var out []group.Group
	for _, rows := range [][]group.Group{s.groups, staged} {
		for _, g := range rows {
			if g.Name == name && g.CreatorID == creator {
				out = append(out, g)
			}
		}
	}
	return out
}

type tx struct {
	store  *Store
	groups []group.Group
	staged map[shared.GroupID][]group.Membership
	nextID shared.GroupID
	done   bool
}

func (t *tx) FindGroups(ctx context.Context, name string, creator shared.UserID) ([]group.Group, error) {
	if t.done {
		return nil, errTxDone
	}
	return t.store.findLocked(name, creator, t.groups), nil
}

func (t *tx) ListMembers(ctx context.Context, groupID shared.GroupID) ([]group.Membership, error) {
	if t.done {
		return nil, errTxDone
	}
	out := append([]group.Membership(nil), t.store.memberships[groupID]...)
	return append(out, t.staged[groupID]...), nil
}

func (t *tx) InsertGroup(ctx context.Context, g group.Group) (group.Group, error) {
	if t.done {
		return group.Group{}, errTxDone
	}
	if len(t.store.findLocked(g.Name, g.CreatorID, t.groups)) > 0 {
		return group.Group{}, shared.ErrDuplicate
	}
	if t.nextID == 0 {
		t.nextID = t.store.nextID
	}
	t.nextID++
	g.ID = t.nextID
	t.groups = append(t.groups, g)
	return g, nil
}

func (t *tx) InsertMembership(ctx context.Context, m group.Membership) error {
	if t.done {
		return errTxDone
	}
	if !t.knows(m.GroupID) {
		return shared.ErrNotFound
	}
	for _, rows := range [][]group.Membership{t.store.memberships[m.GroupID], t.staged[m.GroupID]} {
		for _, existing := range rows {
			if existing.UserID == m.UserID {
				return shared.ErrDuplicate
			}
		}
	}
	t.staged[m.GroupID] = append(t.staged[m.GroupID], m)
	return nil
}

func (t *tx) knows(id shared.GroupID) bool {
	for _, rows := range [][]group.Group{t.store.groups, t.groups} {
		for _, g := range rows {
			if g.ID == id {
				return true
			}
		}
	}
	return false
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	s := t.store
	s.groups = append(s.groups, t.groups...)
	if t.nextID > s.nextID {
		s.nextID = t.nextID
	}
	for id, members := range t.staged {
		s.memberships[id] = append(s.memberships[id], members...)
	}
	t.finish()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	t.store.mu.Unlock()
}

var _ group.Store = (*Store)(nil)
