package web

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgfetch/internal/taskqueue"
)

func newClient(hub *Hub) *Client {
	c := &Client{hub: hub, send: make(chan []byte, 256)}
	hub.register <- c
	return c
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(200 * time.Millisecond):
		t.Fatal("client did not receive message")
		return nil
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	first := newClient(hub)
	second := newClient(hub)

	hub.Broadcast(map[string]string{"type": "tg_qr", "url": "tg://login?token=x"})
	want := `{"type":"tg_qr","url":"tg://login?token=x"}`
	assert.JSONEq(t, want, string(receive(t, first)))
	assert.JSONEq(t, want, string(receive(t, second)))

	hub.unregister <- first
	hub.Broadcast([]byte("raw"))

	select {
	case msg, ok := <-first.send:
		assert.False(t, ok, "unregistered client got %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, []byte("raw"), receive(t, second))
}

func TestTaskObserver(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	c := newClient(hub)

	rec := taskqueue.Record{Key: "https://t.me/c/10/5", Kind: taskqueue.KindDownload, Status: taskqueue.StatusRetry, Attempt: 1, MaxAttempts: 3, Err: "FLOOD_WAIT"}
	TaskObserver(hub)(rec)

	var ev struct {
		Type    string           `json:"type"`
		Payload taskqueue.Record `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(receive(t, c), &ev))
	assert.Equal(t, EventTaskUpdated, ev.Type)
	assert.Equal(t, rec.Key, ev.Payload.Key)
	assert.Equal(t, taskqueue.StatusRetry, ev.Payload.Status)
	assert.Equal(t, "FLOOD_WAIT", ev.Payload.Err)
}
