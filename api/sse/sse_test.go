package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/parley/server/chat"
	"github.com/kasuganosora/parley/server/config"
	"github.com/kasuganosora/parley/server/gateway"
	mw "github.com/kasuganosora/parley/server/middleware"
	"github.com/kasuganosora/parley/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServeSSE(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}
	h := NewHandler(ps, c, sec, zap.NewNop())

	r := gin.New()
	r.GET("/sse", h.ServeSSE)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sse")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := mw.GenerateToken(5, sec.JWTSecret, sec.JWTTTLH)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), mw.SessionKeyPrefix+token, strconv.Itoa(5), time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse?token="+token, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		require.True(t, lines.Scan(), "stream ended early")
		return lines.Text()
	}
	assert.Equal(t, "event: connected", next())
	assert.Equal(t, `data: {"user_id":5}`, next())
	assert.Equal(t, "", next())

	require.NoError(t, ps.Publish(ctx, chat.EventsChannel, "not json"))
	pkt, err := gateway.NewPacket(gateway.EventMessageDeleted, 42)
	require.NoError(t, err)
	data, err := pkt.Encode()
	require.NoError(t, err)
	require.NoError(t, ps.Publish(ctx, chat.EventsChannel, string(data)))

	assert.Equal(t, "event: "+gateway.EventMessageDeleted, next())
	assert.True(t, strings.HasPrefix(next(), "data: 42"))
}
