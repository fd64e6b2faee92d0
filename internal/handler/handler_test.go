package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelhub/internal/broadcast"
	"github.com/channelhub/internal/config"
	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/room"
	"github.com/channelhub/internal/service"
	"github.com/channelhub/internal/storage/memory"
	"github.com/channelhub/internal/ws"
)

type testAPI struct {
	srv    *httptest.Server
	store  *memory.Store
	events *broadcast.Dispatcher
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWith(t, func(*config.Config) {})
}

// newTestAPIWith поднимает полный роутер API поверх хранилища в памяти; tune правит конфиг.
func newTestAPIWith(t *testing.T, tune func(*config.Config)) *testAPI {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := memory.NewStore()
	registry := room.NewRegistry()
	events := broadcast.New(registry, memory.New())
	require.NoError(t, events.Start(ctx))
	svc := service.New(store, registry, events, service.Options{})
	hub := ws.NewHub(registry, svc, 0, ws.ClientConfig{})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	cfg := &config.Config{
		WSMaxMessageSize: 8192,
		WSPongTimeout:    60,
		RateLimitRPS:     1000,
		RateLimitBurst:   1000,
		MetricsSecret:    "metrics-secret",
	}
	tune(cfg)

	srv := httptest.NewServer(NewRouter(cfg, svc, hub, middleware.DevHeaderAuth(store)))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hubDone
		events.Wait()
	})
	return &testAPI{srv: srv, store: store, events: events}
}

// call выполняет запрос от имени user и разбирает JSON-ответ в out (если out не nil).
func (a *testAPI) call(t *testing.T, method, path, user string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if s, ok := body.(string); ok {
		rd = bytes.NewReader([]byte(s))
	} else if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-Id", user)
		req.Header.Set("X-User-Name", strings.ToUpper(user[:1])+user[1:])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) createChannel(t *testing.T, user, name string, kind model.ChannelKind) model.Channel {
	t.Helper()
	var ch model.Channel
	status := a.call(t, http.MethodPost, "/api/channels", user, map[string]any{"name": name, "type": kind}, &ch)
	require.Equal(t, http.StatusCreated, status)
	return ch
}

func TestChannelEndpoints(t *testing.T) {
	a := newTestAPI(t)
	ch := a.createChannel(t, "alice", "general", "")
	assert.Equal(t, []string{"alice"}, ch.Members)

	var errResp errorResponse
	assert.Equal(t, http.StatusBadRequest, a.call(t, http.MethodPost, "/api/channels", "bob", map[string]string{"name": "general"}, &errResp))
	assert.Equal(t, "conflict", errResp.Code)
	assert.Equal(t, http.StatusBadRequest, a.call(t, http.MethodPost, "/api/channels", "bob", "{not json", nil))
	assert.Equal(t, http.StatusUnauthorized, a.call(t, http.MethodPost, "/api/channels", "", map[string]string{"name": "x"}, nil))

	var list []model.Channel
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/channels", "", nil, &list))
	assert.Len(t, list, 1)

	var joined membershipResponse
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/api/channels/"+ch.ID+"/join", "bob", nil, &joined))
	assert.Equal(t, "joined channel", joined.Message)
	assert.Equal(t, []string{"alice", "bob"}, joined.Channel.Members)
	assert.Equal(t, http.StatusBadRequest, a.call(t, http.MethodPost, "/api/channels/"+ch.ID+"/join", "bob", nil, nil))
	assert.Equal(t, http.StatusNotFound, a.call(t, http.MethodPost, "/api/channels/missing/join", "bob", nil, nil))

	var members membersResponse
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/channels/"+ch.ID+"/members", "carol", nil, &members))
	require.Len(t, members.Members, 2)
	assert.Equal(t, "Bob", members.Members[1].Username)

	var found []model.UserPublic
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/channels/members/search?channelId="+ch.ID+"&keyword=al", "bob", nil, &found))
	require.Len(t, found, 1)
	assert.Equal(t, "alice", found[0].ID)
	assert.Equal(t, http.StatusNotFound, a.call(t, http.MethodGet, "/api/channels/members/search?channelId="+ch.ID+"&keyword=al", "carol", nil, nil))

	var left membershipResponse
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/api/channels/"+ch.ID+"/leave", "bob", nil, &left))
	assert.Equal(t, []string{"alice"}, left.Channel.Members)
	assert.Equal(t, http.StatusBadRequest, a.call(t, http.MethodPost, "/api/channels/"+ch.ID+"/leave", "bob", nil, nil))

	var updated model.Channel
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodPut, "/api/channels/"+ch.ID, "alice", map[string]string{"name": "lobby"}, &updated))
	assert.Equal(t, "lobby", updated.Name)

	var mine []model.Channel
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/users/me/channels", "alice", nil, &mine))
	assert.Len(t, mine, 1)

	assert.Equal(t, http.StatusOK, a.call(t, http.MethodDelete, "/api/channels/"+ch.ID, "alice", nil, nil))
	assert.Equal(t, http.StatusNotFound, a.call(t, http.MethodDelete, "/api/channels/"+ch.ID, "alice", nil, nil))
}

func TestPrivateChannelIsHidden(t *testing.T) {
	a := newTestAPI(t)
	ch := a.createChannel(t, "alice", "secret", model.ChannelPrivate)

	var errResp errorResponse
	assert.Equal(t, http.StatusNotFound, a.call(t, http.MethodGet, "/api/messages?channelId="+ch.ID, "bob", nil, &errResp))
	assert.Equal(t, "not_a_member", errResp.Code)
	assert.Equal(t, http.StatusNotFound, a.call(t, http.MethodGet, "/api/channels/"+ch.ID, "bob", nil, nil))

	assert.Equal(t, http.StatusNotFound, a.call(t, http.MethodPost, "/api/channels/"+ch.ID+"/invite", "alice", map[string]string{"user_id": "bob"}, nil), "bob is not in the directory yet")
	var me model.UserPublic
	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/users/me", "bob", nil, &me))
	assert.Equal(t, "Bob", me.Username)
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/api/channels/"+ch.ID+"/invite", "alice", map[string]string{"user_id": "bob"}, nil))
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/messages?channelId="+ch.ID, "bob", nil, nil))
}

func TestMessageEndpoints(t *testing.T) {
	a := newTestAPI(t)
	ch := a.createChannel(t, "alice", "general", "")
	require.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/api/channels/"+ch.ID+"/join", "bob", nil, nil))

	var posted postMessageResponse
	require.Equal(t, http.StatusCreated, a.call(t, http.MethodPost, "/api/messages", "alice", map[string]string{"channelId": ch.ID, "content": "hello"}, &posted))
	assert.Equal(t, "Alice", posted.Username)
	require.NotNil(t, posted.Message)
	msgID := posted.Message.ID

	assert.Equal(t, http.StatusBadRequest, a.call(t, http.MethodPost, "/api/messages", "alice", map[string]string{"channelId": ch.ID, "content": ""}, nil))
	assert.Equal(t, http.StatusBadRequest, a.call(t, http.MethodPost, "/api/messages", "alice", map[string]string{"content": "x"}, nil))
	assert.Equal(t, http.StatusNotFound, a.call(t, http.MethodPost, "/api/messages", "alice", map[string]string{"channelId": "missing", "content": "x"}, nil))
	assert.Equal(t, http.StatusNotFound, a.call(t, http.MethodPost, "/api/messages", "carol", map[string]string{"channelId": ch.ID, "content": "x"}, nil))

	assert.Equal(t, http.StatusForbidden, a.call(t, http.MethodPut, "/api/messages/"+msgID, "bob", map[string]string{"content": "mine"}, nil))
	var edited model.Message
	require.Equal(t, http.StatusOK, a.call(t, http.MethodPut, "/api/messages/"+msgID, "alice", map[string]any{"content": "hello!", "version": 1}, &edited))
	assert.Equal(t, int64(2), edited.Version)
	assert.Equal(t, http.StatusConflict, a.call(t, http.MethodPut, "/api/messages/"+msgID, "alice", map[string]any{"content": "late", "version": 1}, nil))

	var r1 model.Reply
	require.Equal(t, http.StatusCreated, a.call(t, http.MethodPost, "/api/messages/"+msgID+"/reply", "bob", map[string]string{"content": "first"}, &r1))
	require.Equal(t, http.StatusCreated, a.call(t, http.MethodPost, "/api/messages/"+msgID+"/reply", "alice", map[string]string{"content": "second", "parentId": r1.ID}, nil))
	var rc model.Reaction
	require.Equal(t, http.StatusCreated, a.call(t, http.MethodPost, "/api/messages/"+msgID+"/react", "bob", map[string]string{"emoji": "👍"}, &rc))
	assert.Equal(t, "Bob", rc.Username)

	var pinned model.Message
	require.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/api/messages/"+msgID+"/pin", "bob", nil, &pinned))
	assert.True(t, pinned.Pinned)
	var pins []model.Message
	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/channels/"+ch.ID+"/pinned", "bob", nil, &pins))
	assert.Len(t, pins, 1)
	require.Equal(t, http.StatusOK, a.call(t, http.MethodDelete, "/api/messages/"+msgID+"/pin", "bob", nil, &pinned))
	assert.False(t, pinned.Pinned)
	var unread model.Message
	require.Equal(t, http.StatusOK, a.call(t, http.MethodPut, "/api/messages/"+msgID+"/unread", "bob", map[string]bool{"unread": true}, &unread))
	assert.True(t, unread.Unread)

	var list []model.Message
	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/messages?channelId="+ch.ID, "bob", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "hello!", list[0].Content)
	require.Len(t, list[0].Replies, 1)
	require.Len(t, list[0].Replies[0].Replies, 1)
	assert.Equal(t, "second", list[0].Replies[0].Replies[0].Content)
	assert.Len(t, list[0].Reactions, 1)

	var hits []model.Message
	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/messages/search?keyword=HELLO", "carol", nil, &hits))
	assert.Len(t, hits, 1)
	assert.Equal(t, http.StatusBadRequest, a.call(t, http.MethodGet, "/api/messages/search", "carol", nil, nil))

	assert.Equal(t, http.StatusForbidden, a.call(t, http.MethodDelete, "/api/messages/"+msgID, "bob", nil, nil))
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodDelete, "/api/messages/"+msgID, "alice", nil, nil))
	assert.Equal(t, http.StatusNotFound, a.call(t, http.MethodDelete, "/api/messages/"+msgID, "alice", nil, nil))
}

func TestArchivedChannelRejectsPosts(t *testing.T) {
	a := newTestAPI(t)
	ch := a.createChannel(t, "alice", "general", "")
	var archived model.Channel
	require.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/api/channels/"+ch.ID+"/archive", "alice", nil, &archived))
	assert.True(t, archived.Archived)
	assert.Equal(t, http.StatusBadRequest, a.call(t, http.MethodPost, "/api/messages", "alice", map[string]string{"channelId": ch.ID, "content": "x"}, nil))

	var prefs model.Channel
	require.Equal(t, http.StatusOK, a.call(t, http.MethodPut, "/api/channels/"+ch.ID+"/notifications", "alice", model.NotificationPreferences{Email: true}, &prefs))
	assert.Equal(t, model.NotificationPreferences{Email: true}, prefs.Notifications)
}

func TestConfigEndpoints(t *testing.T) {
	a := newTestAPI(t)
	var wsCfg wsConfigResponse
	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/config/ws", "", nil, &wsCfg))
	assert.Equal(t, 8192, wsCfg.MaxMessageSize)
	var pushCfg pushConfigResponse
	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/config/push", "", nil, &pushCfg))
	assert.False(t, pushCfg.Enabled)
}

func dialWS(t *testing.T, a *testAPI, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/ws?user_id=" + user
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestLiveSessionReceivesPosts(t *testing.T) {
	a := newTestAPI(t)
	ch := a.createChannel(t, "alice", "general", "")
	require.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/api/channels/"+ch.ID+"/join", "bob", nil, nil))
	a.events.Wait()

	bob := dialWS(t, a, "bob")
	require.NoError(t, bob.WriteJSON(ws.IncomingMessage{Type: ws.EventJoin, ChannelID: ch.ID, RequestID: "r1"}))
	joined := readWS(t, bob)
	assert.Equal(t, ws.EventJoined, joined["type"])

	var posted postMessageResponse
	require.Equal(t, http.StatusCreated, a.call(t, http.MethodPost, "/api/messages", "alice", map[string]string{"channelId": ch.ID, "content": "hello"}, &posted))

	ev := readWS(t, bob)
	assert.Equal(t, "new message", ev["type"])
	assert.Equal(t, ch.ID, ev["channel_id"])
	payload := ev["payload"].(map[string]any)
	assert.Equal(t, "hello", payload["content"])
	assert.Equal(t, "alice", payload["user_id"])
	assert.Equal(t, posted.Message.ID, payload["id"])

	// Подсказка после REST-создания подтверждается, но не создаёт второе сообщение и второе событие.
	require.NoError(t, bob.WriteJSON(ws.IncomingMessage{Type: ws.EventNewMessage, ChannelID: ch.ID, MessageID: posted.Message.ID, RequestID: "r2"}))
	ack := readWS(t, bob)
	assert.Equal(t, ws.EventAck, ack["type"])
	assert.Equal(t, posted.Message.ID, ack["payload"].(map[string]any)["message_id"])

	require.NoError(t, bob.WriteJSON(ws.IncomingMessage{Type: ws.EventNewMessage, ChannelID: ch.ID, RequestID: "r3"}))
	msg := readWS(t, bob)
	assert.Equal(t, ws.EventError, msg["type"])
	assert.Equal(t, "validation", msg["payload"].(map[string]any)["code"])

	require.NoError(t, bob.WriteJSON(ws.IncomingMessage{Type: ws.EventNewMessage, ChannelID: ch.ID, MessageID: "missing", RequestID: "r4"}))
	msg = readWS(t, bob)
	assert.Equal(t, ws.EventError, msg["type"])
	assert.Equal(t, "not_found", msg["payload"].(map[string]any)["code"])

	var list []model.Message
	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/messages?channelId="+ch.ID, "bob", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "hello", list[0].Content)
}

func TestLiveSessionErrors(t *testing.T) {
	a := newTestAPI(t)
	ch := a.createChannel(t, "alice", "secret", model.ChannelPrivate)

	bob := dialWS(t, a, "bob")
	require.NoError(t, bob.WriteJSON(ws.IncomingMessage{Type: ws.EventJoin, ChannelID: ch.ID, RequestID: "r1"}))
	msg := readWS(t, bob)
	assert.Equal(t, ws.EventError, msg["type"])
	assert.Equal(t, "not_a_member", msg["payload"].(map[string]any)["code"])

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte("{oops")))
	msg = readWS(t, bob)
	assert.Equal(t, ws.EventError, msg["type"])
	assert.Equal(t, "validation", msg["payload"].(map[string]any)["code"])

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(a.srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	resp, err := http.Get(a.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	get := func(headers map[string]string) (int, string) {
		req, err := http.NewRequest(http.MethodGet, a.srv.URL+"/metrics", nil)
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body strings.Builder
		_, err = io.Copy(&body, resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, body.String()
	}

	status, body := get(nil)
	assert.Equal(t, http.StatusOK, status, "loopback is internal")
	assert.Contains(t, body, "channelhub_ws_sessions")

	status, _ = get(map[string]string{"X-Real-IP": "203.0.113.7"})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = get(map[string]string{"X-Real-IP": "203.0.113.7", "X-Internal-Secret": "metrics-secret"})
	assert.Equal(t, http.StatusOK, status)
}

func TestRateLimitOnAPIRoutes(t *testing.T) {
	a := newTestAPIWith(t, func(cfg *config.Config) {
		cfg.RateLimitRPS = 0.001
		cfg.RateLimitBurst = 1
	})
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/users/me", "alice", nil, nil))
	assert.Equal(t, http.StatusTooManyRequests, a.call(t, http.MethodGet, "/api/users/me", "alice", nil, nil))
	assert.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/api/channels", "", nil, nil), "public listing is not limited")
}
