package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/parley/server/dm"
	mw "github.com/kasuganosora/parley/server/middleware"
)

// DMHandler serves direct-message sessions.
type DMHandler struct {
	dms *dm.Service
}

// NewDMHandler creates a new DMHandler.
func NewDMHandler(dms *dm.Service) *DMHandler {
	return &DMHandler{dms: dms}
}

type openDMRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// Open handles POST /api/dms. It returns the caller's session with user_id,
// creating it on first use.
func (h *DMHandler) Open(c *gin.Context) {
	var req openDMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id is required")
		return
	}
	sess, err := h.dms.GetOrCreate(requestContext(c), mw.GetUserID(c), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// List handles GET /api/dms.
func (h *DMHandler) List(c *gin.Context) {
	convs, err := h.dms.ListByUser(requestContext(c), mw.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// Register mounts the DM routes on g.
func (h *DMHandler) Register(g *gin.RouterGroup) {
	g.POST("/dms", h.Open)
	g.GET("/dms", h.List)
}
