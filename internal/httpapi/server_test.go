package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hammerhead/internal/config"
	"hammerhead/internal/httpapi"
	"hammerhead/internal/logger"
	"hammerhead/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newServer(t *testing.T, withStorage bool) *httptest.Server {
	t.Helper()
	cfg := config.NewConfig()
	if withStorage {
		cfg.Sqlite.Db = ":memory:"
	}
	svc, err := api.NewService(cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(t.Context()) })

	srv := httptest.NewServer(httpapi.NewServer(svc))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method string, params any) envelope {
	t.Helper()
	body := map[string]any{"method": method, "id": "1"}
	if params != nil {
		body["params"] = params
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "1", env.ID)
	return env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	require.True(t, env.Success, "call failed: %s %s", env.Code, env.Message)
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	res := decodeData[map[string]string](t, call(t, srv, "session.create", nil))
	require.NotEmpty(t, res["sessionId"])
	require.NotEmpty(t, res["ownerToken"])
	return res["sessionId"]
}

func TestServer_InvalidRequests(t *testing.T) {
	srv := newServer(t, false)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL, "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	resp.Body.Close()
	assert.False(t, env.Success)
	assert.Equal(t, "invalid_request", env.Code)

	env = call(t, srv, "nope", nil)
	assert.Equal(t, "method_not_found", env.Code)

	env = call(t, srv, "session.open", map[string]any{"sessionId": "x"})
	assert.Equal(t, "invalid_params", env.Code)
}

func TestServer_Metrics(t *testing.T) {
	srv := newServer(t, false)
	createSession(t, srv)

	resp, err := http.Get(srv.URL + httpapi.MetricsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "hammerhead_sessions_active 1")
}

func TestServer_SessionLifecycle(t *testing.T) {
	srv := newServer(t, false)
	sid := createSession(t, srv)

	open := decodeData[map[string]string](t, call(t, srv, "session.open", map[string]any{
		"sessionId": sid,
		"url":       "https://example.com/index.html",
	}))
	assert.True(t, strings.HasPrefix(open["proxyUrl"], "http://127.0.0.1:1337/"))
	assert.True(t, strings.HasSuffix(open["proxyUrl"], "!"+sid+"/https://example.com/index.html"))

	env := call(t, srv, "session.close", map[string]any{"sessionId": sid})
	assert.True(t, env.Success)

	env = call(t, srv, "session.close", map[string]any{"sessionId": sid})
	assert.False(t, env.Success)
	assert.Equal(t, "UNKNOWN_SESSION", env.Code)

	env = call(t, srv, "session.open", map[string]any{"sessionId": sid, "url": "https://example.com/"})
	assert.Equal(t, "UNKNOWN_SESSION", env.Code)
}

func TestServer_CloseByOwner(t *testing.T) {
	srv := newServer(t, false)
	for i := 0; i < 2; i++ {
		call(t, srv, "session.create", map[string]any{"ownerToken": "owner-a"})
	}
	call(t, srv, "session.create", map[string]any{"ownerToken": "owner-b"})

	res := decodeData[map[string]int](t, call(t, srv, "session.closeByOwner", map[string]any{"ownerToken": "owner-a"}))
	assert.Equal(t, 2, res["count"])

	env := call(t, srv, "session.closeByOwner", map[string]any{})
	assert.Equal(t, "invalid_params", env.Code)
}

func TestServer_Cookies(t *testing.T) {
	srv := newServer(t, false)
	sid := createSession(t, srv)

	env := call(t, srv, "cookies.set", map[string]any{
		"sessionId": sid,
		"url":       "https://example.com/",
		"cookies": []map[string]any{
			{"name": "a", "value": "1"},
			{"name": "b", "value": "2", "path": "/docs"},
		},
	})
	require.True(t, env.Success, env.Message)

	type cookie struct {
		Name  string `json:"name"`
		Value string `json:"value"`
		Path  string `json:"path"`
	}
	all := decodeData[[]cookie](t, call(t, srv, "cookies.get", map[string]any{"sessionId": sid}))
	assert.Len(t, all, 2)

	byURL := decodeData[[]cookie](t, call(t, srv, "cookies.get", map[string]any{
		"sessionId": sid,
		"urls":      []string{"https://example.com/"},
	}))
	require.Len(t, byURL, 1)
	assert.Equal(t, "a", byURL[0].Name)

	deleted := decodeData[map[string]int](t, call(t, srv, "cookies.delete", map[string]any{
		"sessionId": sid,
		"filters":   []map[string]string{{"name": "b"}},
	}))
	assert.Equal(t, 1, deleted["count"])

	env = call(t, srv, "cookies.set", map[string]any{
		"sessionId": sid,
		"cookies":   []map[string]any{{"name": "c", "value": "3"}},
	})
	assert.False(t, env.Success)
	assert.Equal(t, "MALFORMED_COOKIE", env.Code)
}

func TestServer_AuthSet(t *testing.T) {
	srv := newServer(t, false)
	sid := createSession(t, srv)

	env := call(t, srv, "auth.set", map[string]any{
		"sessionId": sid, "url": "https://example.com/", "username": "u", "password": "p",
	})
	assert.True(t, env.Success)

	env = call(t, srv, "auth.set", map[string]any{"sessionId": sid, "url": "not a url"})
	assert.Equal(t, "invalid_params", env.Code)

	env = call(t, srv, "auth.set", map[string]any{"sessionId": "missing", "url": "https://example.com/"})
	assert.Equal(t, "UNKNOWN_SESSION", env.Code)
}

func TestServer_RulesAndStats(t *testing.T) {
	srv := newServer(t, true)

	env := call(t, srv, "rules.load", map[string]any{"config": map[string]any{
		"id":   "cfg1",
		"name": "test",
		"rules": []map[string]any{{
			"id": "r1", "enabled": true, "stage": "request",
			"actions": []map[string]any{{"type": "setHeader", "name": "X-A", "value": "1"}},
		}},
	}})
	require.True(t, env.Success, env.Message)

	env = call(t, srv, "rules.load", map[string]any{"config": map[string]any{
		"id":    "cfg2",
		"rules": []map[string]any{{"id": "r1", "stage": "bogus"}},
	}})
	assert.Equal(t, "invalid_params", env.Code)

	stats := decodeData[map[string]any](t, call(t, srv, "stats.rules", nil))
	assert.EqualValues(t, 0, stats["total"])
}

func TestServer_EventsQuery(t *testing.T) {
	env := call(t, newServer(t, false), "events.query", nil)
	assert.False(t, env.Success)
	assert.Equal(t, "internal", env.Code)

	srv := newServer(t, true)
	res := decodeData[map[string]any](t, call(t, srv, "events.query", map[string]any{"limit": 10}))
	assert.EqualValues(t, 0, res["total"])
}
