package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/parley/server/api/rest"
	"github.com/kasuganosora/parley/server/chat"
	"github.com/kasuganosora/parley/server/config"
	"github.com/kasuganosora/parley/server/dm"
	"github.com/kasuganosora/parley/server/gateway"
	"github.com/kasuganosora/parley/server/message"
	mw "github.com/kasuganosora/parley/server/middleware"
	"github.com/kasuganosora/parley/server/social"
	"github.com/kasuganosora/parley/server/testutil"
	"github.com/kasuganosora/parley/server/user"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// api is a fully wired router with three logged-in users.
type api struct {
	r      *gin.Engine
	db     *gorm.DB
	hub    *gateway.Hub
	dms    *dm.Service
	ids    []int64
	tokens []string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}
	log := zap.NewNop()

	users := user.NewService(db, c, time.Minute, log)
	dms := dm.NewService(db, users, log)
	messages := message.NewService(db, 0, log)
	hub := gateway.NewHub(c, log)
	chatSvc := chat.NewService(messages, users, hub, ps, log)

	r := gin.New()
	g := r.Group("/api", mw.Auth(sec, c))
	rest.NewSocialHandler(social.NewService(db, users, dms, nil, log)).Register(g)
	rest.NewDMHandler(dms).Register(g)
	rest.NewMessageHandler(messages, chatSvc).Register(g)

	a := &api{r: r, db: db, hub: hub, dms: dms, ids: testutil.CreateUsers(t, db, "alice", "bob", "carol")}
	for _, id := range a.ids {
		token, err := mw.GenerateToken(id, sec.JWTSecret, sec.JWTTTLH)
		require.NoError(t, err)
		require.NoError(t, c.Set(context.Background(), mw.SessionKeyPrefix+token, strconv.FormatInt(id, 10), sec.JWTTTLH))
		a.tokens = append(a.tokens, token)
	}
	return a
}

// do sends a request as user index who (or anonymously when who < 0).
func (a *api) do(who int, method, path string, body interface{}) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if who >= 0 {
		req.Header.Set("Authorization", "Bearer "+a.tokens[who])
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func (a *api) path(format string, id int64) string {
	return format + strconv.FormatInt(id, 10)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	decode(t, w, &resp)
	code, _ := resp["code"].(string)
	return code
}
