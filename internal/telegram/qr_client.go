package telegram

import (
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tgfetch/internal/config"
)

// QRClientBundle contains all components needed for QR authentication
type QRClientBundle struct {
	Client     *telegram.Client
	Dispatcher tg.UpdateDispatcher
	Storage    *session.StorageMemory
}

// NewQRClient creates a raw td/telegram client for QR login. The session
// lands in memory and is copied to the database once auth succeeds.
func NewQRClient(cfg *config.Config) (*QRClientBundle, error) {
	resolver, err := proxyResolver(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	memStorage := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()

	opts := telegram.Options{
		SessionStorage: memStorage,
		UpdateHandler:  &dispatcher,
	}
	if resolver != nil {
		opts.Resolver = resolver
	}

	return &QRClientBundle{
		Client:     telegram.NewClient(cfg.Telegram.APIID, cfg.Telegram.APIHash, opts),
		Dispatcher: dispatcher,
		Storage:    memStorage,
	}, nil
}
