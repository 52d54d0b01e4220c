package rest_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/kasuganosora/parley/server/gateway"
	"github.com/kasuganosora/parley/server/message"
	"github.com/kasuganosora/parley/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMessage_CreateBroadcasts(t *testing.T) {
	a := newAPI(t)
	listener := gateway.NewConn(a.ids[1], nil, gateway.ConnConfig{SendBuffer: 8}, zap.NewNop())
	a.hub.Register(listener)
	require.True(t, a.hub.Join(listener, message.ChannelRoom(3)))

	w := a.do(0, http.MethodPost, "/api/messages", map[string]interface{}{"content": "  hello  ", "channelId": 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var msg model.Message
	decode(t, w, &msg)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, a.ids[0], msg.SenderID)

	var types []string
	for len(listener.Outbox()) > 0 {
		var p gateway.Packet
		require.NoError(t, json.Unmarshal(<-listener.Outbox(), &p))
		types = append(types, p.Type)
	}
	assert.Equal(t, []string{gateway.EventReceiveMessage, gateway.EventReceiveNotification}, types)
}

func TestMessage_CreateValidation(t *testing.T) {
	a := newAPI(t)

	w := a.do(0, http.MethodPost, "/api/messages", map[string]interface{}{"content": "both", "channelId": 1, "dmId": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", errCode(t, w))

	w = a.do(0, http.MethodPost, "/api/messages", map[string]interface{}{"content": "   ", "channelId": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessage_ListUpdateDelete(t *testing.T) {
	a := newAPI(t)
	for _, text := range []string{"one", "two"} {
		require.Equal(t, http.StatusCreated,
			a.do(0, http.MethodPost, "/api/messages", map[string]interface{}{"content": text, "channelId": 7}).Code)
	}

	w := a.do(1, http.MethodGet, "/api/messages/channel/7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []model.Message
	decode(t, w, &msgs)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)

	w = a.do(1, http.MethodGet, a.path("/api/messages/user/", a.ids[0]), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &msgs)
	assert.Len(t, msgs, 2)

	w = a.do(0, http.MethodPut, a.path("/api/messages/", msgs[0].ID), map[string]string{"newContent": "uno"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.Message
	decode(t, w, &updated)
	assert.Equal(t, "uno", updated.Content)

	w = a.do(0, http.MethodDelete, a.path("/api/messages/", msgs[1].ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, a.do(0, http.MethodDelete, a.path("/api/messages/", msgs[1].ID), nil).Code)
	assert.Equal(t, http.StatusNotFound,
		a.do(0, http.MethodPut, "/api/messages/9999", map[string]string{"newContent": "x"}).Code)
}

func TestMessage_DMHistory(t *testing.T) {
	a := newAPI(t)
	sess, err := a.dms.GetOrCreate(t.Context(), a.ids[0], a.ids[1])
	require.NoError(t, err)

	require.Equal(t, http.StatusCreated,
		a.do(1, http.MethodPost, "/api/messages", map[string]interface{}{"content": "psst", "dmId": sess.ID}).Code)
	assert.Equal(t, http.StatusBadRequest,
		a.do(2, http.MethodPost, "/api/messages", map[string]interface{}{"content": "me too", "dmId": sess.ID}).Code)

	w := a.do(0, http.MethodGet, a.path("/api/messages/dm/", sess.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []model.Message
	decode(t, w, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "psst", msgs[0].Content)
}
