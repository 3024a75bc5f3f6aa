package group

import (
	"errors"
	"fmt"
)

var (
	ErrNameRequired = errors.New("group name required")
	ErrNameTooLong  = fmt.Errorf("group name longer than %d characters", MaxNameLength)
)

// Kind enumerates every way group creation can fail.
type Kind int

const (
	KindNoCallerIdentity Kind = iota + 1
	KindCreatorMismatch
	KindInvalidRequest
	KindConnectionUnavailable
	KindQueryFailed
	KindGroupAlreadyExists
	KindInsertFailed
	KindDataNotFound
)

var kindNames = map[Kind]string{
	KindNoCallerIdentity:      "no_caller_identity",
	KindCreatorMismatch:       "creator_mismatch",
	KindInvalidRequest:        "invalid_request",
	KindConnectionUnavailable: "connection_unavailable",
	KindQueryFailed:           "query_failed",
	KindGroupAlreadyExists:    "group_already_exists",
	KindInsertFailed:          "insert_failed",
	KindDataNotFound:          "data_not_found",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Stage names the storage step a creation was in when it failed.
type Stage string

const (
	StageConnect          Stage = "connect"
	StageDuplicateCheck   Stage = "duplicate_check"
	StageInsertGroup      Stage = "insert_group"
	StageReadBack         Stage = "read_back"
	StageInsertMembership Stage = "insert_membership"
	StageCommit           Stage = "commit"
)

// CreationError is the only error type returned by group creation.
// Existing is set for KindGroupAlreadyExists when the conflicting row could be read.
type CreationError struct {
	Kind     Kind
	Stage    Stage
	Existing *Group
	Err      error
}

func (e *CreationError) Error() string {
	msg := e.Kind.String()
	if e.Stage != "" {
		msg += " at " + string(e.Stage)
	}
	if e.Kind == KindGroupAlreadyExists && e.Existing != nil {
		msg += fmt.Sprintf(": group %q by %q already exists (id %s)", e.Existing.Name, e.Existing.CreatorID, e.Existing.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CreationError) Unwrap() error { return e.Err }

// Is matches another *CreationError by kind so callers can test errors.Is(err, &CreationError{Kind: ...}).
func (e *CreationError) Is(target error) bool {
	t, ok := target.(*CreationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of a creation error, or zero if err is not one.
func KindOf(err error) Kind {
	var ce *CreationError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
