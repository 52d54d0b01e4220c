package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(relationships.WithLabelValues("block", "ok"))
	RecordTransition("block", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(relationships.WithLabelValues("block", "ok")))

	beforeErr := testutil.ToFloat64(messages.WithLabelValues("create", "error"))
	RecordMessage("create", errors.New("boom"))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(messages.WithLabelValues("create", "error")))

	SetGatewayStats(3, 2)
	assert.Equal(t, 3.0, testutil.ToFloat64(wsConnections))
	assert.Equal(t, 2.0, testutil.ToFloat64(wsRooms))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/friends/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/friends/7", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.GreaterOrEqual(t,
		testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/api/friends/:id", "204")), 1.0)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), "parley_http_requests_total")
}
