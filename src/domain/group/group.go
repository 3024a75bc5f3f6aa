package group

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bryanwahyu/grups/src/domain/shared"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// MaxNameLength bounds group names in runes.
const MaxNameLength = 128

// Membership is the relation "user belongs to group".
type Membership struct {
	GroupID  shared.GroupID
	UserID   shared.UserID
	Role     Role
	JoinedAt time.Time
}

// Group is owned by its creator; (Name, CreatorID) is unique across groups.
type Group struct {
	ID        shared.GroupID
	Name      string
	CreatorID shared.UserID
	CreatedAt time.Time
}

// NewGroup validates a creation request. The returned group has no ID until storage assigns one.
func NewGroup(name string, creator shared.UserID, now time.Time) (*Group, error) {
	if err := creator.Validate(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, ErrNameTooLong
	}
	return &Group{
		Name:      name,
		CreatorID: creator,
		CreatedAt: now,
	}, nil
}

// CreatorMembership is the first membership every group gets.
func (g *Group) CreatorMembership(now time.Time) Membership {
	return Membership{GroupID: g.ID, UserID: g.CreatorID, Role: RoleOwner, JoinedAt: now}
}
