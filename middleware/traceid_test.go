package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceOf(t *testing.T, headers map[string]string) (body, header string) {
	t.Helper()
	r := gin.New()
	r.Use(TraceID())
	r.GET("/api/friends", func(c *gin.Context) {
		c.String(http.StatusOK, GetTraceID(c))
	})
	req := httptest.NewRequest(http.MethodGet, "/api/friends", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String(), w.Header().Get(TraceIDHeader)
}

func TestTraceID_Generated(t *testing.T) {
	id, hdr := traceOf(t, nil)
	assert.Len(t, id, 36)
	assert.Equal(t, id, hdr)

	other, _ := traceOf(t, nil)
	assert.NotEqual(t, id, other)
}

func TestTraceID_ReusesCallerID(t *testing.T) {
	id, hdr := traceOf(t, map[string]string{TraceIDHeader: "room-join:42"})
	assert.Equal(t, "room-join:42", id)
	assert.Equal(t, "room-join:42", hdr)

	id, _ = traceOf(t, map[string]string{RequestIDHeader: "lb.7f3a"})
	assert.Equal(t, "lb.7f3a", id)

	id, _ = traceOf(t, map[string]string{TraceIDHeader: "mine", RequestIDHeader: "proxy"})
	assert.Equal(t, "mine", id)
}

func TestTraceID_RejectsUnsafeIDs(t *testing.T) {
	for _, bad := range []string{
		strings.Repeat("a", maxTraceIDLen+1),
		"two words",
		"x\ty",
		`"quoted"`,
	} {
		id, _ := traceOf(t, map[string]string{TraceIDHeader: bad})
		assert.Len(t, id, 36, "%q replaced", bad)
	}
}

func TestGetTraceID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetTraceID(c))
	c.Set(TraceIDKey, 7)
	assert.Equal(t, "", GetTraceID(c))
}
