package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/tgfetch/internal/taskqueue"
)

// TasksHandler exposes the task queue.
type TasksHandler struct {
	queue TaskQueue
}

// NewTasksHandler creates a new TasksHandler.
func NewTasksHandler(queue TaskQueue) *TasksHandler {
	return &TasksHandler{queue: queue}
}

type tasksResponse struct {
	InFlight int                                 `json:"in_flight"`
	Stats    map[taskqueue.Kind]taskqueue.Stats `json:"stats"`
	Tasks    []taskqueue.Record                  `json:"tasks"`
}

// List returns every known task with the per-kind counters.
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks := h.queue.Snapshot()
	if status := r.URL.Query().Get("status"); status != "" {
		var filtered []taskqueue.Record
		for _, rec := range tasks {
			if string(rec.Status) == status {
				filtered = append(filtered, rec)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []taskqueue.Record{}
	}
	writeJSON(w, http.StatusOK, tasksResponse{
		InFlight: h.queue.InFlight(),
		Stats:    h.queue.Stats(),
		Tasks:    tasks,
	})
}

// Get returns one task by kind and key.
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, key, ok := taskRef(w, r)
	if !ok {
		return
	}
	rec, found := h.queue.Status(key, kind)
	if !found {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Cancel stops a queued, waiting or running task.
func (h *TasksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	kind, key, ok := taskRef(w, r)
	if !ok {
		return
	}
	if !h.queue.Cancel(key, kind) {
		writeError(w, http.StatusNotFound, "no such task in flight")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func taskRef(w http.ResponseWriter, r *http.Request) (taskqueue.Kind, string, bool) {
	kind, err := taskqueue.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return "", "", false
	}
	return kind, key, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		_ = err // Client disconnected
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
