package groups

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/grups/src/domain/group"
	"github.com/bryanwahyu/grups/src/domain/shared"
	"github.com/bryanwahyu/grups/src/infra/logging"
)

// Service runs the group creation workflow against a transactional store.
type Service struct {
	Store  group.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

func NewService(store group.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:  store,
		Clock:  func() time.Time { return time.Now().UTC() },
		Logger: logger,
	}
}

// CreateInput is the client payload. An empty CreatorID means the caller.
type CreateInput struct {
	Name      string
	CreatorID shared.UserID
}

// CreateGroup checks for a duplicate, inserts the group, reads it back and inserts the
// creator membership, all inside one transaction. Every failure is a *group.CreationError.
func (s *Service) CreateGroup(ctx context.Context, caller shared.UserID, in CreateInput) (*group.Group, error) {
	log := logging.FromContext(ctx, s.Logger).With(zap.String("name", in.Name), zap.String("caller", string(caller)))
	log.Info("inserting new group")

	if caller.Validate() != nil {
		return nil, s.fail(log, &group.CreationError{Kind: group.KindNoCallerIdentity})
	}
	creator := in.CreatorID
	if creator == "" {
		creator = caller
	}
	if creator != caller {
		return nil, s.fail(log, &group.CreationError{
			Kind: group.KindCreatorMismatch,
			Err:  errors.New("creator_id must match the authenticated user"),
		})
	}
	now := s.Clock()
	candidate, err := group.NewGroup(in.Name, creator, now)
	if err != nil {
		return nil, s.fail(log, &group.CreationError{Kind: group.KindInvalidRequest, Err: err})
	}

	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, s.fail(log, &group.CreationError{Kind: group.KindConnectionUnavailable, Stage: group.StageConnect, Err: err})
	}
	created, cerr := s.create(ctx, log, tx, candidate, now)
	if cerr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Warn("rollback failed", zap.Error(rbErr))
		}
		if cerr.Kind == group.KindGroupAlreadyExists && cerr.Existing == nil {
			cerr.Existing = s.lookupWinner(ctx, log, candidate)
		}
		return nil, s.fail(log, cerr)
	}
	log.Info("created group", zap.Stringer("group_id", created.ID))
	return created, nil
}

func (s *Service) create(ctx context.Context, log *zap.Logger, tx group.Tx, candidate *group.Group, now time.Time) (*group.Group, *group.CreationError) {
	existing, err := tx.FindGroups(ctx, candidate.Name, candidate.CreatorID)
	if err != nil {
		return nil, storageError(group.KindQueryFailed, group.StageDuplicateCheck, err)
	}
	if len(existing) > 0 {
		first := existing[0]
		return nil, &group.CreationError{Kind: group.KindGroupAlreadyExists, Stage: group.StageDuplicateCheck, Existing: &first}
	}

	inserted, err := tx.InsertGroup(ctx, *candidate)
	if err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			return nil, &group.CreationError{Kind: group.KindGroupAlreadyExists, Stage: group.StageInsertGroup, Err: err}
		}
		return nil, storageError(group.KindInsertFailed, group.StageInsertGroup, err)
	}

	readBack, err := tx.FindGroups(ctx, candidate.Name, candidate.CreatorID)
	if err != nil {
		return nil, storageError(group.KindQueryFailed, group.StageReadBack, err)
	}
	created, ok := pickInserted(readBack, inserted.ID)
	if !ok {
		return nil, &group.CreationError{
			Kind:  group.KindDataNotFound,
			Stage: group.StageReadBack,
			Err:   errors.New("can't get inserted group back after creating new one"),
		}
	}

	if err := tx.InsertMembership(ctx, created.CreatorMembership(now)); err != nil {
		return nil, storageError(group.KindInsertFailed, group.StageInsertMembership, err)
	}
	log.Info("inserted creator membership", zap.Stringer("group_id", created.ID), zap.String("user_id", string(created.CreatorID)))

	if err := tx.Commit(ctx); err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			return nil, &group.CreationError{Kind: group.KindGroupAlreadyExists, Stage: group.StageCommit, Err: err}
		}
		return nil, storageError(group.KindInsertFailed, group.StageCommit, err)
	}
	return &created, nil
}

// pickInserted finds the row the insert produced. A zero id means the store could not
// return one, in which case the first match stands in.
func pickInserted(rows []group.Group, id shared.GroupID) (group.Group, bool) {
	if len(rows) == 0 {
		return group.Group{}, false
	}
	if id == 0 {
		return rows[0], true
	}
	for _, row := range rows {
		if row.ID == id {
			return row, true
		}
	}
	return group.Group{}, false
}

// lookupWinner reads the group that beat this request to the unique constraint.
func (s *Service) lookupWinner(ctx context.Context, log *zap.Logger, candidate *group.Group) *group.Group {
	rows, err := s.Store.FindGroups(ctx, candidate.Name, candidate.CreatorID)
	if err != nil || len(rows) == 0 {
		log.Warn("conflicting group not readable", zap.Error(err), zap.Int("rows", len(rows)))
		return nil
	}
	return &rows[0]
}

func storageError(kind group.Kind, stage group.Stage, err error) *group.CreationError {
	if errors.Is(err, shared.ErrUnavailable) {
		kind = group.KindConnectionUnavailable
	}
	return &group.CreationError{Kind: kind, Stage: stage, Err: err}
}

func (s *Service) fail(log *zap.Logger, cerr *group.CreationError) error {
	fields := []zap.Field{zap.Stringer("kind", cerr.Kind), zap.String("stage", string(cerr.Stage))}
	if cerr.Err != nil {
		fields = append(fields, zap.Error(cerr.Err))
	}
	switch cerr.Kind {
	case group.KindGroupAlreadyExists, group.KindNoCallerIdentity, group.KindCreatorMismatch, group.KindInvalidRequest:
		log.Warn("group not created", fields...)
	default:
		log.Error("group creation failed", fields...)
	}
	return cerr
}
