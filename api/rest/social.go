package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/parley/server/middleware"
	"github.com/kasuganosora/parley/server/social"
)

// SocialHandler exposes the friendship state machine.
type SocialHandler struct {
	social *social.Service
}

// NewSocialHandler creates a new SocialHandler.
func NewSocialHandler(svc *social.Service) *SocialHandler {
	return &SocialHandler{social: svc}
}

// ListFriends handles GET /api/friends.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	list, err := h.social.ListFriends(requestContext(c), mw.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Status handles GET /api/friends/:id/status.
func (h *SocialHandler) Status(c *gin.Context) {
	other, ok := parseID(c, "id")
	if !ok {
		return
	}
	ctx, actor := requestContext(c), mw.GetUserID(c)
	state, err := h.social.Status(ctx, actor, other)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":     other,
		"state":       state,
		"are_friends": state == social.StateAccepted,
	})
}

// Edges handles GET /api/friends/:id/edges.
func (h *SocialHandler) Edges(c *gin.Context) {
	other, ok := parseID(c, "id")
	if !ok {
		return
	}
	edges, err := h.social.Edges(requestContext(c), mw.GetUserID(c), other)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"edges": edges})
}

// SendRequest handles POST /api/friends/:id/request.
func (h *SocialHandler) SendRequest(c *gin.Context) {
	other, ok := parseID(c, "id")
	if !ok {
		return
	}
	state, err := h.social.SendRequest(requestContext(c), mw.GetUserID(c), other)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"state": state})
}

// transition adapts a state machine call that only reports an error.
func (h *SocialHandler) transition(fn func(c *gin.Context, actor, other int64) error, done string) gin.HandlerFunc {
	return func(c *gin.Context) {
		other, ok := parseID(c, "id")
		if !ok {
			return
		}
		if err := fn(c, mw.GetUserID(c), other); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": done})
	}
}

// Accept handles POST /api/friends/:id/accept.
func (h *SocialHandler) Accept() gin.HandlerFunc {
	return h.transition(func(c *gin.Context, actor, other int64) error {
		return h.social.Accept(requestContext(c), actor, other)
	}, "accepted")
}

// Reject handles POST /api/friends/:id/reject.
func (h *SocialHandler) Reject() gin.HandlerFunc {
	return h.transition(func(c *gin.Context, actor, other int64) error {
		return h.social.Reject(requestContext(c), actor, other)
	}, "rejected")
}

// Remove handles DELETE /api/friends/:id.
func (h *SocialHandler) Remove() gin.HandlerFunc {
	return h.transition(func(c *gin.Context, actor, other int64) error {
		return h.social.Remove(requestContext(c), actor, other)
	}, "removed")
}

// Block handles POST /api/friends/:id/block.
func (h *SocialHandler) Block() gin.HandlerFunc {
	return h.transition(func(c *gin.Context, actor, other int64) error {
		return h.social.Block(requestContext(c), actor, other)
	}, "blocked")
}

// Unblock handles POST /api/friends/:id/unblock.
func (h *SocialHandler) Unblock(c *gin.Context) {
	other, ok := parseID(c, "id")
	if !ok {
		return
	}
	state, err := h.social.Unblock(requestContext(c), mw.GetUserID(c), other)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unblocked", "state": state})
}

// Register mounts the friend routes on g.
func (h *SocialHandler) Register(g *gin.RouterGroup) {
	g.GET("/friends", h.ListFriends)
	g.GET("/friends/:id/status", h.Status)
	g.GET("/friends/:id/edges", h.Edges)
	g.POST("/friends/:id/request", h.SendRequest)
	g.POST("/friends/:id/accept", h.Accept())
	g.POST("/friends/:id/reject", h.Reject())
	g.POST("/friends/:id/block", h.Block())
	g.POST("/friends/:id/unblock", h.Unblock)
	g.DELETE("/friends/:id", h.Remove())
}
