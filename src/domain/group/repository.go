package group

import (
	"context"

	"github.com/bryanwahyu/grups/src/domain/shared"
)

// Reader is the read side shared by stores and open transactions.
type Reader interface {
	// FindGroups returns groups matching (name, creator) in storage order.
	FindGroups(ctx context.Context, name string, creator shared.UserID) ([]Group, error)
	ListMembers(ctx context.Context, groupID shared.GroupID) ([]Membership, error)
}

// Tx is one storage session. Writes become visible to other sessions only on Commit.
type Tx interface {
	Reader
	// InsertGroup stores g and returns it with the storage-assigned ID.
	// A (name, creator) collision is reported as shared.ErrDuplicate.
	InsertGroup(ctx context.Context, g Group) (Group, error)
	InsertMembership(ctx context.Context, m Membership) error
	Commit(ctx context.Context) error
	// Rollback is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// Store hands out transactions. Begin reports unreachable storage as shared.ErrUnavailable.
type Store interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	Close() error
}
