package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(Options{AllowedOrigins: []string{"*"}}, zap.NewNop())
	go hub.Run()
	srv := NewServer(hub, zap.NewNop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(time.Second)
	})
	return hub, ts
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestPresenceEndpoints(t *testing.T) {
	hub, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/presence")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Empty(t, body["online"])

	c := connect(t, hub)
	authenticateClient(t, c, 42)

	resp, err = http.Get(ts.URL + "/presence")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, []any{float64(42)}, body["online"])

	resp, err = http.Get(ts.URL + "/presence/42")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, true, body["online"])

	resp, err = http.Get(ts.URL + "/presence/7")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, false, body["online"])

	resp, err = http.Get(ts.URL + "/presence/abc")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestNotifyMessageEndpoint(t *testing.T) {
	hub, ts := newTestServer(t)

	c2 := connect(t, hub)
	authenticateClient(t, c2, 2, "room-A")

	resp, err := http.Post(ts.URL+"/internal/messages", "application/json",
		strings.NewReader(`{"chatId":"room-A","senderId":1,"message":{"id":99,"senderName":"Alice","text":"hi"}}`))
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["delivered"])

	env := recvEnvelope(t, c2)
	require.Equal(t, TypeMessage, env.Type)
	var payload MessagePayload
	require.NoError(t, env.DecodePayload(&payload))
	assert.Equal(t, int64(1), payload.SenderID)
	assert.Equal(t, "hi", payload.Text)
}

func TestNotifyMessageEndpointValidation(t *testing.T) {
	_, ts := newTestServer(t)

	for _, body := range []string{
		`not json`,
		`{"chatId":"","senderId":1}`,
		`{"chatId":"room-A","senderId":0}`,
	} {
		resp, err := http.Post(ts.URL+"/internal/messages", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %q", body)
		_ = resp.Body.Close()
	}
}

func TestAddMemberEndpoint(t *testing.T) {
	hub, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/internal/chats/members", "application/json",
		strings.NewReader(`{"userId":5,"chatId":"room-Z"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	assert.ElementsMatch(t, []int64{5}, hub.membership.MembersOf("room-Z"))

	// idempotent
	resp, err = http.Post(ts.URL+"/internal/chats/members", "application/json",
		strings.NewReader(`{"userId":5,"chatId":"room-Z"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Len(t, hub.membership.Chats(5), 1)
}

func TestNotifyDeletedEndpointValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/internal/messages/deleted", "application/json",
		strings.NewReader(`{"chatId":"room-A","senderId":1,"messageId":0}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestWebSocketEndpointRejectsPlainGET(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestWebSocketEndpointRejectsPOST(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/ws", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	_ = resp.Body.Close()
}
