package handlers

import (
	"net/http"

	"github.com/blockedby/tgfetch/internal/listen"
)

// ListenHandler lists listen subscriptions.
type ListenHandler struct {
	registry ListenRegistry
}

// NewListenHandler creates a new ListenHandler.
func NewListenHandler(registry ListenRegistry) *ListenHandler {
	return &ListenHandler{registry: registry}
}

// List returns every subscription, oldest first.
func (h *ListenHandler) List(w http.ResponseWriter, _ *http.Request) {
	subs := h.registry.List()
	if subs == nil {
		subs = []listen.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}
