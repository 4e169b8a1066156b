package handlers

import (
	"context"

	"github.com/blockedby/tgfetch/internal/listen"
	"github.com/blockedby/tgfetch/internal/taskqueue"
	"github.com/blockedby/tgfetch/internal/telegram"
)

// TaskQueue defines the task queue operations exposed over HTTP.
type TaskQueue interface {
	Snapshot() []taskqueue.Record
	Stats() map[taskqueue.Kind]taskqueue.Stats
	Status(key string, kind taskqueue.Kind) (taskqueue.Record, bool)
	Cancel(key string, kind taskqueue.Kind) bool
	InFlight() int
}

// ListenRegistry defines the read side of the listen subscriptions.
type ListenRegistry interface {
	List() []listen.Subscription
}

// TelegramClient defines the interface required by AuthHandler
type TelegramClient interface {
	StartQR(ctx context.Context, onQRCode func(url string)) error
	GetStatus() telegram.Status
	IsQRInProgress() bool
}

// HubBroadcaster defines the interface for broadcasting messages to connected clients.
type HubBroadcaster interface {
	Broadcast(message interface{})
}
