// Package user resolves user ids to usernames for message fan-out and
// friend lists, caching lookups in the shared cache.
package user

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kasuganosora/parley/server/apperr"
	"github.com/kasuganosora/parley/server/cache"
	"github.com/kasuganosora/parley/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UnknownName is shown when a sender can no longer be resolved.
const UnknownName = "Unknown"

const (
	nameKeyPrefix = "user:name:"
	cacheTimeout  = 2 * time.Second
)

// Service looks up users.
type Service struct {
	db     *gorm.DB
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewService creates a Service. ttl <= 0 disables caching.
func NewService(db *gorm.DB, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{db: db, cache: c, ttl: ttl, logger: logger}
}

// Username returns the username for id, or UnknownName if the user does not exist
// or the lookup fails.
func (s *Service) Username(ctx context.Context, id int64) string {
	key := nameKeyPrefix + strconv.FormatInt(id, 10)
	if s.ttl > 0 && s.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		name, err := s.cache.Get(cctx, key)
		cancel()
		if err == nil {
			return name
		}
	}

	var u model.User
	err := s.db.WithContext(ctx).Select("id", "username").First(&u, id).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("username lookup failed", zap.Int64("user_id", id), zap.Error(err))
		}
		return UnknownName
	}
	s.remember(ctx, key, u.Username)
	return u.Username
}

// Usernames resolves many ids in one query. Missing ids are absent from the map.
func (s *Service) Usernames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, apperr.FromDB(err, "user not found")
	}
	for _, u := range users {
		out[u.ID] = u.Username
	}
	return out, nil
}

// Exists reports whether every id refers to a user. tx may be a transaction.
func Exists(ctx context.Context, tx *gorm.DB, ids ...int64) (bool, error) {
	uniq := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		uniq[id] = struct{}{}
	}
	var n int64
	if err := tx.WithContext(ctx).Model(&model.User{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
		return false, apperr.Server("user lookup failed", err)
	}
	return n == int64(len(uniq)), nil
}

// Forget drops a cached username, e.g. after a rename.
func (s *Service) Forget(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, nameKeyPrefix+strconv.FormatInt(id, 10))
}

func (s *Service) remember(ctx context.Context, key, name string) {
	if s.ttl <= 0 || s.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()
	if err := s.cache.Set(cctx, key, name, s.ttl); err != nil {
		s.logger.Debug("username cache write failed", zap.Error(err))
	}
}
