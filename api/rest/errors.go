package rest

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/parley/server/apperr"
	"github.com/kasuganosora/parley/server/audit"
	mw "github.com/kasuganosora/parley/server/middleware"
)

// respondError writes err as {"error", "code"} with the status its kind maps to.
func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"error": apperr.Message(err),
		"code":  apperr.KindOf(err).Code(),
	})
}

// badRequest reports a binding failure.
func badRequest(c *gin.Context, msg string) {
	respondError(c, apperr.Validation(msg))
}

// parseID reads a positive int64 path parameter. It writes the error
// response itself and reports false on failure.
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// requestContext carries the trace id and client ip into the services.
func requestContext(c *gin.Context) context.Context {
	return audit.WithTrace(c.Request.Context(), mw.GetTraceID(c), c.ClientIP())
}
