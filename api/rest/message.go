package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/parley/server/chat"
	"github.com/kasuganosora/parley/server/gateway"
	"github.com/kasuganosora/parley/server/message"
	mw "github.com/kasuganosora/parley/server/middleware"
	"github.com/kasuganosora/parley/server/model"
)

// MessageHandler serves message history and the HTTP write path.
type MessageHandler struct {
	messages *message.Service
	chat     *chat.Service
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(messages *message.Service, chatSvc *chat.Service) *MessageHandler {
	return &MessageHandler{messages: messages, chat: chatSvc}
}

type createMessageRequest struct {
	Content   string `json:"content"`
	ChannelID *int64 `json:"channelId"`
	DMID      *int64 `json:"dmId"`
}

type updateMessageRequest struct {
	NewContent string `json:"newContent"`
}

// Create handles POST /api/messages. The sender is the caller; the message
// is delivered to the room like one sent over the socket.
func (h *MessageHandler) Create(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed request body")
		return
	}
	msg, err := h.chat.Send(requestContext(c), nil, gateway.SendMessage{
		Content:   req.Content,
		SenderID:  mw.GetUserID(c),
		ChannelID: req.ChannelID,
		DMID:      req.DMID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *MessageHandler) list(fetch func(c *gin.Context, id int64) ([]model.Message, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		msgs, err := fetch(c, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, msgs)
	}
}

// ByChannel handles GET /api/messages/channel/:id.
func (h *MessageHandler) ByChannel() gin.HandlerFunc {
	return h.list(func(c *gin.Context, id int64) ([]model.Message, error) {
		return h.messages.ListByChannel(requestContext(c), id)
	})
}

// ByDM handles GET /api/messages/dm/:id.
func (h *MessageHandler) ByDM() gin.HandlerFunc {
	return h.list(func(c *gin.Context, id int64) ([]model.Message, error) {
		return h.messages.ListByDM(requestContext(c), id)
	})
}

// ByUser handles GET /api/messages/user/:id.
func (h *MessageHandler) ByUser() gin.HandlerFunc {
	return h.list(func(c *gin.Context, id int64) ([]model.Message, error) {
		return h.messages.ListByUser(requestContext(c), id)
	})
}

// Update handles PUT /api/messages/:id.
func (h *MessageHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed request body")
		return
	}
	msg, err := h.chat.Update(requestContext(c), id, req.NewContent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Delete handles DELETE /api/messages/:id.
func (h *MessageHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.chat.Delete(requestContext(c), nil, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted", "id": id})
}

// Register mounts the message routes on g.
func (h *MessageHandler) Register(g *gin.RouterGroup) {
	g.POST("/messages", h.Create)
	g.GET("/messages/channel/:id", h.ByChannel())
	g.GET("/messages/dm/:id", h.ByDM())
	g.GET("/messages/user/:id", h.ByUser())
	g.PUT("/messages/:id", h.Update)
	g.DELETE("/messages/:id", h.Delete)
}
