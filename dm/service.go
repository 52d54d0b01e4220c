// Package dm stores direct-message sessions, one per unordered pair of users.
package dm

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/parley/server/apperr"
	"github.com/kasuganosora/parley/server/model"
	"github.com/kasuganosora/parley/server/user"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Conversation is a DM session as seen by one of its participants.
type Conversation struct {
	ID           int64     `json:"id"`
	PeerID       int64     `json:"peer_id"`
	PeerUsername string    `json:"peer_username"`
	CreatedAt    time.Time `json:"created_at"`
}

// Service manages DM sessions.
type Service struct {
	db     *gorm.DB
	users  *user.Service
	logger *zap.Logger
}

func NewService(db *gorm.DB, users *user.Service, logger *zap.Logger) *Service {
	return &Service{db: db, users: users, logger: logger}
}

func validatePair(a, b int64) error {
	if a <= 0 || b <= 0 {
		return apperr.Validation("invalid user id")
	}
	if a == b {
		return apperr.Validation("cannot open a direct message with yourself")
	}
	return nil
}

// GetOrCreate returns the session between a and b, creating it on first use.
func (s *Service) GetOrCreate(ctx context.Context, a, b int64) (*model.DMSession, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	ok, err := user.Exists(ctx, s.db, a, b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("user not found")
	}

	low, high := model.CanonicalPair(a, b)
	sess := &model.DMSession{}
	err = s.db.WithContext(ctx).Where("user_low = ? AND user_high = ?", low, high).First(sess).Error
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.FromDB(err, "dm session not found")
	}

	sess = &model.DMSession{UserLow: low, UserHigh: high}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		if !apperr.IsUniqueViolation(err) {
			return nil, apperr.FromDB(err, "dm session not found")
		}
		// Lost a create race; the winner's row is the session.
		sess = &model.DMSession{}
		if err := s.db.WithContext(ctx).Where("user_low = ? AND user_high = ?", low, high).First(sess).Error; err != nil {
			return nil, apperr.FromDB(err, "dm session not found")
		}
		return sess, nil
	}
	s.logger.Debug("dm session created", zap.Int64("dm_id", sess.ID), zap.Int64("user_low", low), zap.Int64("user_high", high))
	return sess, nil
}

// Get returns the session with the given id.
func (s *Service) Get(ctx context.Context, id int64) (*model.DMSession, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid dm id")
	}
	sess := &model.DMSession{}
	if err := s.db.WithContext(ctx).First(sess, id).Error; err != nil {
		return nil, apperr.FromDB(err, "dm session not found")
	}
	return sess, nil
}

// Between looks up the session for a pair without creating it.
func (s *Service) Between(ctx context.Context, a, b int64) (*model.DMSession, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	low, high := model.CanonicalPair(a, b)
	sess := &model.DMSession{}
	if err := s.db.WithContext(ctx).Where("user_low = ? AND user_high = ?", low, high).First(sess).Error; err != nil {
		return nil, apperr.FromDB(err, "dm session not found")
	}
	return sess, nil
}

// ListByUser returns every session userID participates in, newest first.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]Conversation, error) {
	if userID <= 0 {
		return nil, apperr.Validation("invalid user id")
	}
	var rows []model.DMSession
	err := s.db.WithContext(ctx).
		Where("user_low = ? OR user_high = ?", userID, userID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.FromDB(err, "dm session not found")
	}

	peers := make([]int64, len(rows))
	for i := range rows {
		peers[i] = rows[i].Peer(userID)
	}
	names, err := s.users.Usernames(ctx, peers)
	if err != nil {
		return nil, err
	}

	out := make([]Conversation, len(rows))
	for i, r := range rows {
		name, ok := names[peers[i]]
		if !ok {
			name = user.UnknownName
		}
		out[i] = Conversation{ID: r.ID, PeerID: peers[i], PeerUsername: name, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// DeleteBetween removes the session between a and b together with all of
// its messages. It runs on tx so it can join the caller's transaction, and
// returns the ids of the deleted sessions.
func (s *Service) DeleteBetween(ctx context.Context, tx *gorm.DB, a, b int64) ([]int64, error) {
	low, high := model.CanonicalPair(a, b)
	var ids []int64
	if err := tx.WithContext(ctx).Model(&model.DMSession{}).
		Where("user_low = ? AND user_high = ?", low, high).
		Pluck("id", &ids).Error; err != nil {
		return nil, apperr.Server("dm lookup failed", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := tx.WithContext(ctx).Where("dm_id IN ?", ids).Delete(&model.Message{}).Error; err != nil {
		return nil, apperr.Server("dm message cleanup failed", err)
	}
	if err := tx.WithContext(ctx).Where("id IN ?", ids).Delete(&model.DMSession{}).Error; err != nil {
		return nil, apperr.Server("dm session cleanup failed", err)
	}
	return ids, nil
}
