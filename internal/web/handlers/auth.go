package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/blockedby/tgfetch/internal/telegram"
)

// AuthHandler serves the user account login status and the QR login flow.
type AuthHandler struct {
	client TelegramClient
	hub    HubBroadcaster
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(client TelegramClient, hub HubBroadcaster) *AuthHandler {
	return &AuthHandler{
		client: client,
		hub:    hub,
	}
}

// GetStatus returns the current Telegram authentication status
func (h *AuthHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.client.GetStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         string(status),
		"is_ready":       status == telegram.StatusReady,
		"qr_in_progress": h.client.IsQRInProgress(),
	})
}

// StartQR initiates the QR code login flow. Login tokens and the outcome are
// pushed over the websocket hub.
func (h *AuthHandler) StartQR(w http.ResponseWriter, _ *http.Request) {
	if h.client.GetStatus() == telegram.StatusReady {
		writeError(w, http.StatusBadRequest, "already logged in")
		return
	}
	if h.client.IsQRInProgress() {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "already in progress"})
		return
	}

	go func() {
		err := h.client.StartQR(context.Background(), func(url string) {
			h.broadcast(map[string]string{"type": "tg_qr", "url": url})
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				h.broadcast(map[string]string{"type": "error", "message": err.Error()})
			}
			return
		}
		h.broadcast(map[string]string{"type": "tg_auth_success"})
	}()

	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *AuthHandler) broadcast(msg interface{}) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}
