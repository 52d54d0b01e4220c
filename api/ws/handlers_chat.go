package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/kasuganosora/parley/server/audit"
	"github.com/kasuganosora/parley/server/chat"
	"github.com/kasuganosora/parley/server/gateway"
	"go.uber.org/zap"
)

var (
	errRateLimited  = errors.New("rate limited")
	errHandlerPanic = errors.New("handler panic")
)

// ChatHandlers serves the room and message commands.
type ChatHandlers struct {
	hub    *gateway.Hub
	chat   *chat.Service
	logger *zap.Logger
}

func NewChatHandlers(hub *gateway.Hub, chatSvc *chat.Service, logger *zap.Logger) *ChatHandlers {
	return &ChatHandlers{hub: hub, chat: chatSvc, logger: logger}
}

// RegisterHandlers wires the chat commands into r.
func (h *ChatHandlers) RegisterHandlers(r *Router) {
	r.On(gateway.EventJoinChannel, h.HandleJoin)
	r.On(gateway.EventLeaveChannel, h.HandleLeave)
	r.On(gateway.EventSendMessage, h.HandleSend)
	r.On(gateway.EventDeleteMessage, h.HandleDelete)
}

func decodeRoom(raw json.RawMessage) (string, error) {
	var room string
	if err := json.Unmarshal(raw, &room); err != nil {
		return "", err
	}
	return strings.TrimSpace(room), nil
}

// HandleJoin subscribes the connection to a room. Empty names are ignored.
func (h *ChatHandlers) HandleJoin(_ context.Context, c *gateway.Conn, raw json.RawMessage) error {
	room, err := decodeRoom(raw)
	if err != nil {
		return err
	}
	if room == "" {
		h.logger.Warn("join with empty room ignored", zap.Int64("user_id", c.UserID))
		return nil
	}
	if h.hub.Join(c, room) {
		h.logger.Debug("joined room", zap.String("conn_id", c.ID), zap.String("room", room))
	}
	return nil
}

// HandleLeave unsubscribes the connection from a room.
func (h *ChatHandlers) HandleLeave(_ context.Context, c *gateway.Conn, raw json.RawMessage) error {
	room, err := decodeRoom(raw)
	if err != nil {
		return err
	}
	if room != "" {
		h.hub.Leave(c, room)
	}
	return nil
}

// HandleSend runs the send protocol. Failures have already been reported to
// the connection as sendFailed by the time an error is returned.
func (h *ChatHandlers) HandleSend(ctx context.Context, c *gateway.Conn, raw json.RawMessage) error {
	var cmd gateway.SendMessage
	if err := json.Unmarshal(raw, &cmd); err != nil {
		sendError(c, gateway.EventSendMessage, "malformed sendMessage payload")
		return err
	}
	_, err := h.chat.Send(h.traced(ctx), c, cmd)
	return err
}

// HandleDelete deletes a message by id.
func (h *ChatHandlers) HandleDelete(ctx context.Context, c *gateway.Conn, raw json.RawMessage) error {
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		sendError(c, gateway.EventDeleteMessage, "malformed deleteMessage payload")
		return err
	}
	return h.chat.Delete(h.traced(ctx), c, id)
}

func (h *ChatHandlers) traced(ctx context.Context) context.Context {
	return audit.WithTrace(ctx, TraceIDFromCtx(ctx), "")
}

func sendError(c *gateway.Conn, event, msg string) {
	pkt, err := gateway.NewPacket(gateway.EventError, map[string]string{"event": event, "message": msg})
	if err != nil {
		return
	}
	c.Send(pkt)
}
