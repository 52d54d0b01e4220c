// Package social implements the friendship state machine: requests,
// acceptance, rejection, removal and blocking between two users.
//
// A pair of users shares a single model.Relationship row. The directed
// edges clients reason about are derived from it (see Edges).
package social

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/parley/server/apperr"
	"github.com/kasuganosora/parley/server/audit"
	"github.com/kasuganosora/parley/server/dm"
	"github.com/kasuganosora/parley/server/metrics"
	"github.com/kasuganosora/parley/server/model"
	"github.com/kasuganosora/parley/server/user"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// State is the relationship as seen from one side of the pair.
type State string

const (
	StateNone            State = "none"
	StatePendingOutgoing State = "pending_outgoing"
	StatePendingIncoming State = "pending_incoming"
	StateAccepted        State = "accepted"
	StateBlocked         State = "blocked"
	StateBlockedBy       State = "blocked_by"
)

// Edge is one directed relationship record.
type Edge struct {
	FromUser int64                `json:"from_user"`
	ToUser   int64                `json:"to_user"`
	Status   model.RelationStatus `json:"status"`
	Blocked  bool                 `json:"blocked"`
}

// Friend is a user entry in a FriendList.
type Friend struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// FriendList groups everyone a user has a relationship with.
type FriendList struct {
	Accepted []Friend `json:"accepted"`
	Pending  []Friend `json:"pending"`
	Outgoing []Friend `json:"outgoing"`
	Blocked  []Friend `json:"blocked"`
}

var errRequestNotFound = apperr.NotFound("friend request not found")

// Service is the friendship state machine.
type Service struct {
	db     *gorm.DB
	users  *user.Service
	dms    *dm.Service
	audit  *audit.Service
	locks  pairLocks
	logger *zap.Logger
}

// NewService creates a Service. auditSvc may be nil.
func NewService(db *gorm.DB, users *user.Service, dms *dm.Service, auditSvc *audit.Service, logger *zap.Logger) *Service {
	return &Service{db: db, users: users, dms: dms, audit: auditSvc, logger: logger}
}

func validatePair(actor, other int64) error {
	if actor <= 0 || other <= 0 {
		return apperr.Validation("invalid user id")
	}
	if actor == other {
		return apperr.Validation("cannot target yourself")
	}
	return nil
}

// findRow loads the pair's row, or nil if the users are unrelated.
func findRow(ctx context.Context, tx *gorm.DB, a, b int64) (*model.Relationship, error) {
	low, high := model.CanonicalPair(a, b)
	row := &model.Relationship{}
	err := tx.WithContext(ctx).Where("user_low = ? AND user_high = ?", low, high).First(row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Server("relationship lookup failed", err)
	}
	return row, nil
}

// stateOf derives actor's view of row.
func stateOf(row *model.Relationship, actor int64) State {
	if row == nil {
		return StateNone
	}
	switch {
	case row.Blocked && row.RequesterID == actor:
		return StateBlocked
	case row.Blocked:
		return StateBlockedBy
	case row.Status == model.RelationAccepted:
		return StateAccepted
	case row.Status == model.RelationPending && row.RequesterID == actor:
		return StatePendingOutgoing
	case row.Status == model.RelationPending:
		return StatePendingIncoming
	}
	return StateNone
}

// mutate runs fn for the pair inside a transaction while holding the pair's
// lock. fn receives the current row (nil if none) and returns actor's new state.
func (s *Service) mutate(ctx context.Context, action string, actor, other int64,
	fn func(tx *gorm.DB, row *model.Relationship) (State, error)) (state State, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordTransition(action, err)
		traceID, ip := audit.TraceFrom(ctx)
		s.audit.Log(audit.Entry{
			TraceID:  traceID,
			ActorID:  actor,
			TargetID: other,
			Action:   "friend_" + action,
			Response: map[string]State{"state": state},
			Err:      err,
			IP:       ip,
			Duration: time.Since(start),
		})
		if err != nil && apperr.KindOf(err) == apperr.KindServer {
			s.logger.Error("relationship transition failed",
				zap.String("action", action), zap.Int64("actor", actor), zap.Int64("other", other), zap.Error(err))
		}
	}()

	if err = validatePair(actor, other); err != nil {
		return StateNone, err
	}
	unlock := s.locks.lock(model.CanonicalPair(actor, other))
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findRow(ctx, tx, actor, other)
		if err != nil {
			return err
		}
		state, err = fn(tx, row)
		return err
	})
	if err != nil {
		return StateNone, apperr.FromDB(err, "relationship not found")
	}
	s.logger.Debug("relationship transition",
		zap.String("action", action), zap.Int64("actor", actor), zap.Int64("other", other), zap.String("state", string(state)))
	return state, nil
}

func (s *Service) requireUser(ctx context.Context, tx *gorm.DB, id int64) error {
	ok, err := user.Exists(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("user not found")
	}
	return nil
}

// cascade drops the pair's DM session and its history.
func (s *Service) cascade(ctx context.Context, tx *gorm.DB, actor, other int64) error {
	ids, err := s.dms.DeleteBetween(ctx, tx, actor, other)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		s.logger.Info("dm sessions removed", zap.Int64("actor", actor), zap.Int64("other", other), zap.Int64s("dm_ids", ids))
	}
	return nil
}

// SendRequest creates a pending request from actor to other. When other has
// already asked actor, the pair becomes friends instead.
func (s *Service) SendRequest(ctx context.Context, actor, other int64) (State, error) {
	return s.mutate(ctx, "request", actor, other, func(tx *gorm.DB, row *model.Relationship) (State, error) {
		if row == nil {
			if err := s.requireUser(ctx, tx, other); err != nil {
				return StateNone, err
			}
			low, high := model.CanonicalPair(actor, other)
			row = &model.Relationship{UserLow: low, UserHigh: high, RequesterID: actor, Status: model.RelationPending}
			if err := tx.Create(row).Error; err != nil {
				return StateNone, err
			}
			return StatePendingOutgoing, nil
		}

		switch stateOf(row, actor) {
		case StateBlocked, StateBlockedBy:
			return StateNone, apperr.Conflict("relationship is blocked")
		case StateAccepted:
			return StateNone, apperr.Conflict("already friends")
		case StatePendingOutgoing:
			return StateNone, apperr.Conflict("friend request already sent")
		case StatePendingIncoming:
			row.Status = model.RelationAccepted
			if err := tx.Save(row).Error; err != nil {
				return StateNone, err
			}
			return StateAccepted, nil
		}
		row.RequesterID, row.Status, row.Blocked = actor, model.RelationPending, false
		if err := tx.Save(row).Error; err != nil {
			return StateNone, err
		}
		return StatePendingOutgoing, nil
	})
}

// Accept turns the pending request from other into a friendship.
func (s *Service) Accept(ctx context.Context, actor, other int64) error {
	_, err := s.mutate(ctx, "accept", actor, other, func(tx *gorm.DB, row *model.Relationship) (State, error) {
		if stateOf(row, actor) != StatePendingIncoming {
			return StateNone, errRequestNotFound
		}
		row.Status = model.RelationAccepted
		if err := tx.Save(row).Error; err != nil {
			return StateNone, err
		}
		return StateAccepted, nil
	})
	return err
}

// Reject discards the pending request from other.
func (s *Service) Reject(ctx context.Context, actor, other int64) error {
	_, err := s.mutate(ctx, "reject", actor, other, func(tx *gorm.DB, row *model.Relationship) (State, error) {
		if stateOf(row, actor) != StatePendingIncoming {
			return StateNone, errRequestNotFound
		}
		if err := tx.Delete(row).Error; err != nil {
			return StateNone, err
		}
		return StateNone, nil
	})
	return err
}

// Remove deletes every edge between the pair, in both directions, and the
// DM session they shared.
func (s *Service) Remove(ctx context.Context, actor, other int64) error {
	_, err := s.mutate(ctx, "remove", actor, other, func(tx *gorm.DB, row *model.Relationship) (State, error) {
		if row == nil {
			return StateNone, apperr.NotFound("relationship not found")
		}
		if err := tx.Delete(row).Error; err != nil {
			return StateNone, err
		}
		return StateNone, s.cascade(ctx, tx, actor, other)
	})
	return err
}

// Block makes actor block other. Any friendship, request or block held by
// other is replaced, and the DM session is deleted. Blocking twice is a no-op.
func (s *Service) Block(ctx context.Context, actor, other int64) error {
	_, err := s.mutate(ctx, "block", actor, other, func(tx *gorm.DB, row *model.Relationship) (State, error) {
		switch {
		case row == nil:
			if err := s.requireUser(ctx, tx, other); err != nil {
				return StateNone, err
			}
			low, high := model.CanonicalPair(actor, other)
			row = &model.Relationship{UserLow: low, UserHigh: high}
		case stateOf(row, actor) == StateBlocked:
			return StateBlocked, nil
		}
		row.RequesterID, row.Status, row.Blocked = actor, model.RelationRejected, true
		if err := tx.Save(row).Error; err != nil {
			return StateNone, err
		}
		return StateBlocked, s.cascade(ctx, tx, actor, other)
	})
	return err
}

// Unblock resets the pair. Edge other->actor is dropped and edge
// actor->other, if any, becomes a fresh pending request from actor.
func (s *Service) Unblock(ctx context.Context, actor, other int64) (State, error) {
	return s.mutate(ctx, "unblock", actor, other, func(tx *gorm.DB, row *model.Relationship) (State, error) {
		if row == nil {
			return StateNone, apperr.NotFound("relationship not found")
		}
		if row.RequesterID != actor && row.Status != model.RelationAccepted {
			// only other->actor exists
			if err := tx.Delete(row).Error; err != nil {
				return StateNone, err
			}
			return StateNone, nil
		}
		row.RequesterID, row.Status, row.Blocked = actor, model.RelationPending, false
		if err := tx.Save(row).Error; err != nil {
			return StateNone, err
		}
		return StatePendingOutgoing, nil
	})
}

func (s *Service) read(ctx context.Context, a, b int64) (*model.Relationship, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	return findRow(ctx, s.db, a, b)
}

// AreFriends reports whether a and b are mutual friends. It is symmetric.
func (s *Service) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	row, err := s.read(ctx, a, b)
	if err != nil {
		return false, err
	}
	return stateOf(row, a) == StateAccepted, nil
}

// Status returns actor's view of the pair.
func (s *Service) Status(ctx context.Context, actor, other int64) (State, error) {
	row, err := s.read(ctx, actor, other)
	if err != nil {
		return StateNone, err
	}
	return stateOf(row, actor), nil
}

// Edges returns the directed edges between a and b.
func (s *Service) Edges(ctx context.Context, a, b int64) ([]Edge, error) {
	row, err := s.read(ctx, a, b)
	if err != nil {
		return nil, err
	}
	return edgesOf(row), nil
}

func edgesOf(row *model.Relationship) []Edge {
	if row == nil {
		return []Edge{}
	}
	from, to := row.RequesterID, row.Other(row.RequesterID)
	if row.Status == model.RelationAccepted && !row.Blocked {
		return []Edge{
			{FromUser: row.UserLow, ToUser: row.UserHigh, Status: model.RelationAccepted},
			{FromUser: row.UserHigh, ToUser: row.UserLow, Status: model.RelationAccepted},
		}
	}
	return []Edge{{FromUser: from, ToUser: to, Status: row.Status, Blocked: row.Blocked}}
}

// ListFriends returns actor's friends, incoming and outgoing requests and
// the users actor has blocked.
func (s *Service) ListFriends(ctx context.Context, actor int64) (*FriendList, error) {
	if actor <= 0 {
		return nil, apperr.Validation("invalid user id")
	}
	var rows []model.Relationship
	err := s.db.WithContext(ctx).
		Where("user_low = ? OR user_high = ?", actor, actor).
		Order("updated_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Server("relationship lookup failed", err)
	}

	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = rows[i].Other(actor)
	}
	names, err := s.users.Usernames(ctx, ids)
	if err != nil {
		return nil, err
	}

	list := &FriendList{Accepted: []Friend{}, Pending: []Friend{}, Outgoing: []Friend{}, Blocked: []Friend{}}
	for i := range rows {
		name, ok := names[ids[i]]
		if !ok {
			name = user.UnknownName
		}
		f := Friend{UserID: ids[i], Username: name}
		switch stateOf(&rows[i], actor) {
		case StateAccepted:
			list.Accepted = append(list.Accepted, f)
		case StatePendingIncoming:
			list.Pending = append(list.Pending, f)
		case StatePendingOutgoing:
			list.Outgoing = append(list.Outgoing, f)
		case StateBlocked:
			list.Blocked = append(list.Blocked, f)
		}
	}
	return list, nil
}
