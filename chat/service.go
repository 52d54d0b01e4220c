// Package chat runs the send, delete and update protocols: it persists
// through the message store and fans the result out through the hub.
package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kasuganosora/parley/server/apperr"
	"github.com/kasuganosora/parley/server/cache"
	"github.com/kasuganosora/parley/server/gateway"
	"github.com/kasuganosora/parley/server/message"
	"github.com/kasuganosora/parley/server/model"
	"github.com/kasuganosora/parley/server/user"
	"go.uber.org/zap"
)

// EventsChannel carries notification and deletion packets for listeners
// outside the hub (the SSE stream).
const EventsChannel = "chat:events"

const publishTimeout = 2 * time.Second

// Service is the realtime message pipeline.
type Service struct {
	messages *message.Service
	users    *user.Service
	hub      *gateway.Hub
	pubsub   cache.PubSub
	logger   *zap.Logger
}

// NewService creates a Service. pubsub may be nil.
func NewService(messages *message.Service, users *user.Service, hub *gateway.Hub, pubsub cache.PubSub, logger *zap.Logger) *Service {
	return &Service{messages: messages, users: users, hub: hub, pubsub: pubsub, logger: logger}
}

// Send stores a message and delivers it. origin is the connection the
// command came from, or nil for messages created over HTTP; only a non-nil
// origin receives the acknowledgement or the failure.
//
// Order: persist, ack origin, broadcast to the room, notify every other
// connection, publish the notification.
func (s *Service) Send(ctx context.Context, origin *gateway.Conn, cmd gateway.SendMessage) (*model.Message, error) {
	msg, err := s.store(ctx, origin, cmd)
	if err != nil {
		s.logger.Warn("send message failed",
			zap.Int64("sender_id", cmd.SenderID),
			zap.String("temp_id", cmd.TempID),
			zap.Error(err))
		if origin != nil {
			s.reply(origin, gateway.EventSendFailed, gateway.SendFailure{
				TempID: cmd.TempID,
				Code:   apperr.KindOf(err).Code(),
				Error:  apperr.Message(err),
			})
		}
		return nil, err
	}

	name := s.users.Username(ctx, msg.SenderID)

	if origin != nil {
		s.reply(origin, gateway.EventMessageAcknowledged, gateway.Acknowledgement{Message: *msg, TempID: cmd.TempID})
	}

	room := message.RoomFor(msg)
	if pkt := s.packet(gateway.EventReceiveMessage, gateway.Delivery{Message: *msg, SenderUsername: name}); pkt != nil {
		s.hub.BroadcastRoom(room, pkt)
	}

	note := s.packet(gateway.EventReceiveNotification, gateway.Notification{Message: *msg, SenderUsername: name, DMID: msg.DMID})
	if note != nil {
		if origin != nil {
			s.hub.BroadcastExcept(origin.ID, note)
		} else {
			s.hub.BroadcastAll(note)
		}
		s.publish(ctx, note)
	}

	s.logger.Debug("message delivered",
		zap.Int64("message_id", msg.ID),
		zap.String("room", room),
		zap.Int64("sender_id", msg.SenderID))
	return msg, nil
}

func (s *Service) store(ctx context.Context, origin *gateway.Conn, cmd gateway.SendMessage) (*model.Message, error) {
	if origin != nil && cmd.SenderID != origin.UserID {
		return nil, apperr.Validation("senderId does not match the authenticated user")
	}
	return s.messages.Create(ctx, message.Input{
		Content:   cmd.Content,
		SenderID:  cmd.SenderID,
		ChannelID: cmd.ChannelID,
		DMID:      cmd.DMID,
	})
}

// Delete removes a message and tells every connection. Failures are
// reported to origin when it is non-nil.
func (s *Service) Delete(ctx context.Context, origin *gateway.Conn, id int64) error {
	if _, err := s.messages.Delete(ctx, id); err != nil {
		s.logger.Warn("delete message failed", zap.Int64("message_id", id), zap.Error(err))
		if origin != nil {
			s.reply(origin, gateway.EventDeleteFailed, gateway.DeleteFailure{
				MessageID: id,
				Code:      apperr.KindOf(err).Code(),
				Error:     apperr.Message(err),
			})
		}
		return err
	}
	if pkt := s.packet(gateway.EventMessageDeleted, id); pkt != nil {
		s.hub.BroadcastAll(pkt)
		s.publish(ctx, pkt)
	}
	return nil
}

// Update replaces a message's content and tells every connection.
func (s *Service) Update(ctx context.Context, id int64, content string) (*model.Message, error) {
	msg, err := s.messages.Update(ctx, id, content)
	if err != nil {
		return nil, err
	}
	if pkt := s.packet(gateway.EventMessageUpdated, msg); pkt != nil {
		s.hub.BroadcastAll(pkt)
	}
	return msg, nil
}

func (s *Service) packet(typ string, payload interface{}) *gateway.Packet {
	pkt, err := gateway.NewPacket(typ, payload)
	if err != nil {
		s.logger.Error("failed to marshal packet", zap.String("type", typ), zap.Error(err))
		return nil
	}
	return pkt
}

func (s *Service) reply(c *gateway.Conn, typ string, payload interface{}) {
	if pkt := s.packet(typ, payload); pkt != nil {
		c.Send(pkt)
	}
}

func (s *Service) publish(ctx context.Context, pkt *gateway.Packet) {
	if s.pubsub == nil {
		return
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.pubsub.Publish(pctx, EventsChannel, string(data)); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", pkt.Type), zap.Error(err))
	}
}
