package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgfetch/internal/listen"
	"github.com/blockedby/tgfetch/internal/taskqueue"
	"github.com/blockedby/tgfetch/internal/telegram"
	"github.com/blockedby/tgfetch/internal/web/handlers"
)

func TestServer_Starts(t *testing.T) {
	srv := NewServer(&Config{Port: 0}, nil)

	go func() { _ = srv.Start() }()
	defer func() { _ = srv.Stop(context.Background()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.BaseURL() + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 50*time.Millisecond)
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(&Config{Version: "1.2.0"}, nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.2.0"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))
}

func TestServer_NoWebsocketWithoutHub(t *testing.T) {
	srv := NewServer(&Config{}, nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type memRegistry []listen.Subscription

func (m memRegistry) List() []listen.Subscription { return m }

type readyClient struct{}

func (readyClient) StartQR(context.Context, func(string)) error { return nil }
func (readyClient) GetStatus() telegram.Status                  { return telegram.StatusReady }
func (readyClient) IsQRInProgress() bool                        { return false }

func TestServer_RegisteredRoutes(t *testing.T) {
	q := taskqueue.New(taskqueue.Config{Workers: map[taskqueue.Kind]int{taskqueue.KindDownload: 1}})
	require.NoError(t, q.Submit(taskqueue.Task{Key: "https://t.me/c/1/1", Kind: taskqueue.KindDownload, Run: func(context.Context) error { return nil }}))

	srv := NewServer(&Config{}, nil)
	srv.RegisterTasksHandler(handlers.NewTasksHandler(q))
	srv.RegisterListenHandler(handlers.NewListenHandler(memRegistry{{Source: -1, Mode: listen.ModeDownload, SourceLink: "https://t.me/news"}}))
	srv.RegisterAuthHandler(handlers.NewAuthHandler(readyClient{}, nil))

	tests := []struct {
		method, path string
		code         int
		contains     string
	}{
		{http.MethodGet, "/api/v1/tasks", http.StatusOK, `"status":"queued"`},
		{http.MethodGet, "/api/v1/tasks/download?key=https://t.me/c/1/1", http.StatusOK, `"kind":"download"`},
		{http.MethodDelete, "/api/v1/tasks/download?key=https://t.me/c/1/1", http.StatusOK, "cancelled"},
		{http.MethodGet, "/api/v1/listen", http.StatusOK, "https://t.me/news"},
		{http.MethodGet, "/api/v1/auth/status", http.StatusOK, `"is_ready":true`},
		{http.MethodPost, "/api/v1/auth/qr", http.StatusBadRequest, "already logged in"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.contains)
		})
	}
}

func TestServer_WebsocketReceivesTaskEvents(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	srv := NewServer(&Config{}, hub)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	observe := TaskObserver(hub)
	rec := taskqueue.Record{Key: "/data/a.mp4", Kind: taskqueue.KindUpload, Status: taskqueue.StatusSuccess}

	// registration is asynchronous, keep publishing until the client is in
	done := make(chan []byte, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err == nil {
			done <- msg
		}
		close(done)
	}()
	var msg []byte
	require.Eventually(t, func() bool {
		observe(rec)
		select {
		case msg = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	var ev WSEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, EventTaskUpdated, ev.Type)
}
