package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgfetch/internal/listen"
	"github.com/blockedby/tgfetch/internal/taskqueue"
)

type fakeQueue struct {
	records   []taskqueue.Record
	cancelled []string
}

func (f *fakeQueue) Snapshot() []taskqueue.Record { return f.records }

func (f *fakeQueue) Stats() map[taskqueue.Kind]taskqueue.Stats {
	return map[taskqueue.Kind]taskqueue.Stats{taskqueue.KindDownload: {Success: 1}}
}

func (f *fakeQueue) Status(key string, kind taskqueue.Kind) (taskqueue.Record, bool) {
	for _, r := range f.records {
		if r.Key == key && r.Kind == kind {
			return r, true
		}
	}
	return taskqueue.Record{}, false
}

func (f *fakeQueue) Cancel(key string, kind taskqueue.Kind) bool {
	rec, ok := f.Status(key, kind)
	if !ok || rec.Status.Terminal() {
		return false
	}
	f.cancelled = append(f.cancelled, key)
	return true
}

func (f *fakeQueue) InFlight() int { return 1 }

func tasksRouter(q TaskQueue) http.Handler {
	h := NewTasksHandler(q)
	r := chi.NewRouter()
	r.Get("/tasks", h.List)
	r.Get("/tasks/{kind}", h.Get)
	r.Delete("/tasks/{kind}", h.Cancel)
	return r
}

func sampleQueue() *fakeQueue {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeQueue{records: []taskqueue.Record{
		{Key: "https://t.me/c/1/2", Kind: taskqueue.KindDownload, Status: taskqueue.StatusSuccess, Attempt: 1, MaxAttempts: 3, UpdatedAt: now},
		{Key: "/data/a.mp4", Kind: taskqueue.KindUpload, Status: taskqueue.StatusRunning, Attempt: 1, MaxAttempts: 3, UpdatedAt: now},
	}}
}

func TestTasksHandler_List(t *testing.T) {
	srv := tasksRouter(sampleQueue())

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body tasksResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Tasks, 2)
	assert.Equal(t, 1, body.InFlight)
	assert.Equal(t, 1, body.Stats[taskqueue.KindDownload].Success)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tasks?status=running", nil))
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "/data/a.mp4", body.Tasks[0].Key)
}

func TestTasksHandler_ListEmpty(t *testing.T) {
	rr := httptest.NewRecorder()
	tasksRouter(&fakeQueue{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tasks", nil))
	assert.Contains(t, rr.Body.String(), `"tasks":[]`)
}

func TestTasksHandler_Get(t *testing.T) {
	srv := tasksRouter(sampleQueue())

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tasks/download?key=https://t.me/c/1/2", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"success"`)

	tests := []struct {
		name string
		url  string
		code int
	}{
		{"unknown kind", "/tasks/stream?key=x", http.StatusBadRequest},
		{"missing key", "/tasks/download", http.StatusBadRequest},
		{"unknown key", "/tasks/download?key=nope", http.StatusNotFound},
		{"wrong kind", "/tasks/upload?key=https://t.me/c/1/2", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.code, rr.Code)
		})
	}
}

func TestTasksHandler_Cancel(t *testing.T) {
	q := sampleQueue()
	srv := tasksRouter(q)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/tasks/upload?key=/data/a.mp4", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"/data/a.mp4"}, q.cancelled)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/tasks/download?key=https://t.me/c/1/2", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code, "finished tasks cannot be cancelled")
}

type fakeRegistry []listen.Subscription

func (f fakeRegistry) List() []listen.Subscription { return f }

func TestListenHandler_List(t *testing.T) {
	rr := httptest.NewRecorder()
	NewListenHandler(fakeRegistry(nil)).List(rr, httptest.NewRequest(http.MethodGet, "/listen", nil))
	assert.JSONEq(t, `[]`, rr.Body.String())

	subs := fakeRegistry{{Source: -100, Mode: listen.ModeForward, Target: -200, SourceLink: "https://t.me/news", TargetLink: "https://t.me/archive"}}
	rr = httptest.NewRecorder()
	NewListenHandler(subs).List(rr, httptest.NewRequest(http.MethodGet, "/listen", nil))

	var got []listen.Subscription
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(-200), got[0].Target)
	assert.Equal(t, listen.ModeForward, got[0].Mode)
}
