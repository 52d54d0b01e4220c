// Package message persists chat messages addressed to a channel or a DM session.
package message

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kasuganosora/parley/server/apperr"
	"github.com/kasuganosora/parley/server/metrics"
	"github.com/kasuganosora/parley/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultMaxLen bounds message content when no limit is configured.
const DefaultMaxLen = 2000

// Input is a message to be created.
type Input struct {
	Content   string
	SenderID  int64
	ChannelID *int64
	DMID      *int64
}

// Service is the message store.
type Service struct {
	db     *gorm.DB
	maxLen int
	logger *zap.Logger
}

func NewService(db *gorm.DB, maxLen int, logger *zap.Logger) *Service {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Service{db: db, maxLen: maxLen, logger: logger}
}

// ChannelRoom is the realtime room name of a channel.
func ChannelRoom(channelID int64) string { return "channel-" + strconv.FormatInt(channelID, 10) }

// DMRoom is the realtime room name of a DM session.
func DMRoom(dmID int64) string { return "dm-" + strconv.FormatInt(dmID, 10) }

// RoomFor returns the room a persisted message is broadcast to.
func RoomFor(m *model.Message) string {
	if m.DMID != nil {
		return DMRoom(*m.DMID)
	}
	if m.ChannelID != nil {
		return ChannelRoom(*m.ChannelID)
	}
	return ""
}

func (s *Service) checkContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Validation("message content cannot be empty")
	}
	if utf8.RuneCountInString(content) > s.maxLen {
		return "", apperr.Validationf("message content exceeds %d characters", s.maxLen)
	}
	return content, nil
}

// Validate checks in and returns it with trimmed content. A non-nil target
// counts as provided and must be positive.
func (s *Service) Validate(in Input) (Input, error) {
	content, err := s.checkContent(in.Content)
	if err != nil {
		return in, err
	}
	in.Content = content
	if in.SenderID <= 0 {
		return in, apperr.Validation("invalid sender id")
	}
	if (in.ChannelID == nil) == (in.DMID == nil) {
		return in, apperr.Validation("exactly one of channelId or dmId must be provided")
	}
	if in.ChannelID != nil && *in.ChannelID <= 0 {
		return in, apperr.Validation("invalid channel id")
	}
	if in.DMID != nil && *in.DMID <= 0 {
		return in, apperr.Validation("invalid dm id")
	}
	return in, nil
}

// Create validates and stores a message. DM messages require the sender to
// participate in the session.
func (s *Service) Create(ctx context.Context, in Input) (msg *model.Message, err error) {
	defer func() { metrics.RecordMessage("create", err) }()

	in, err = s.Validate(in)
	if err != nil {
		return nil, err
	}
	if in.DMID != nil {
		sess := &model.DMSession{}
		if err := s.db.WithContext(ctx).First(sess, *in.DMID).Error; err != nil {
			return nil, apperr.FromDB(err, "dm session not found")
		}
		if !sess.Has(in.SenderID) {
			return nil, apperr.Validation("sender is not a participant of this conversation")
		}
	}

	msg = &model.Message{
		Content:   in.Content,
		Timestamp: time.Now().UTC(),
		SenderID:  in.SenderID,
		ChannelID: in.ChannelID,
		DMID:      in.DMID,
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, apperr.Server("failed to save message", err)
	}
	return msg, nil
}

// Get returns one message.
func (s *Service) Get(ctx context.Context, id int64) (*model.Message, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid message id")
	}
	msg := &model.Message{}
	if err := s.db.WithContext(ctx).First(msg, id).Error; err != nil {
		return nil, apperr.FromDB(err, "message not found")
	}
	return msg, nil
}

func (s *Service) list(ctx context.Context, column string, id int64) ([]model.Message, error) {
	if id <= 0 {
		return nil, apperr.Validation("invalid id")
	}
	msgs := []model.Message{}
	err := s.db.WithContext(ctx).
		Where(column+" = ?", id).
		Order("timestamp ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, apperr.FromDB(err, "message not found")
	}
	return msgs, nil
}

// ListByChannel returns a channel's history, oldest first.
func (s *Service) ListByChannel(ctx context.Context, channelID int64) ([]model.Message, error) {
	return s.list(ctx, "channel_id", channelID)
}

// ListByDM returns a DM session's history, oldest first.
func (s *Service) ListByDM(ctx context.Context, dmID int64) ([]model.Message, error) {
	return s.list(ctx, "dm_id", dmID)
}

// ListByUser returns everything a user has sent, oldest first.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]model.Message, error) {
	return s.list(ctx, "sender_id", userID)
}

// Update replaces a message's content.
func (s *Service) Update(ctx context.Context, id int64, content string) (msg *model.Message, err error) {
	defer func() { metrics.RecordMessage("update", err) }()

	content, err = s.checkContent(content)
	if err != nil {
		return nil, err
	}
	msg, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(msg).Update("content", content).Error; err != nil {
		return nil, apperr.Server("failed to update message", err)
	}
	msg.Content = content
	return msg, nil
}

// Delete removes a message and returns what was deleted.
func (s *Service) Delete(ctx context.Context, id int64) (msg *model.Message, err error) {
	defer func() { metrics.RecordMessage("delete", err) }()

	msg, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Delete(&model.Message{}, id)
	if res.Error != nil {
		return nil, apperr.Server("failed to delete message", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("message not found")
	}
	return msg, nil
}
