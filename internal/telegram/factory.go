package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/celestix/gotgproto/storage"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram/dcs"
	"golang.org/x/net/proxy"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/blockedby/tgfetch/internal/config"
)

// OpenSessionDB opens the database that holds the user session and peer cache.
func OpenSessionDB(cfg config.SessionConfig) (*gorm.DB, error) {
	dialector, err := sessionDialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	return db, nil
}

func sessionDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite", "":
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create session dir: %w", err)
			}
		}
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unknown session driver %q", driver)
}

// NewPersistentClient creates the user client backed by the session database.
// Session updates (auth key refreshes, peers) are written back automatically.
func NewPersistentClient(_ context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	resolver, err := proxyResolver(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	client, err := gotgproto.NewClient(
		cfg.Telegram.APIID,
		cfg.Telegram.APIHash,
		gotgproto.ClientTypePhone(""), // empty = use stored session
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(db.Dialector),
			DisableCopyright: true,
			InMemory:         false,
			Resolver:         resolver,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return client, nil
}

// NewBotClient logs the bot in with its token. The bot keeps its own session file.
func NewBotClient(cfg *config.Config) (*gotgproto.Client, error) {
	resolver, err := proxyResolver(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	dialector, err := sessionDialector("sqlite", cfg.Session.BotDSN)
	if err != nil {
		return nil, err
	}

	client, err := gotgproto.NewClient(
		cfg.Telegram.APIID,
		cfg.Telegram.APIHash,
		gotgproto.ClientTypeBot(cfg.Telegram.BotToken),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(dialector),
			DisableCopyright: true,
			Resolver:         resolver,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot client: %w", err)
	}
	return client, nil
}

// proxyResolver builds a DC resolver that dials through SOCKS5. nil means direct.
func proxyResolver(p config.ProxyConfig) (dcs.Resolver, error) {
	if !p.Enable {
		return nil, nil
	}
	var auth *proxy.Auth
	if p.Username != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", p.Addr(), auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}
	ctxDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 proxy: dialer does not support contexts")
	}
	return dcs.Plain(dcs.PlainOptions{Dial: ctxDialer.DialContext}), nil
}

// saveSession stores a gotd session in the gotgproto sessions table.
// gotgproto keeps the raw JSON of session.Data in storage.Session.Data.
func saveSession(db *gorm.DB, data *session.Data) error {
	if data == nil {
		return fmt.Errorf("session data is nil")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}
	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		return fmt.Errorf("migrate sessions: %w", err)
	}
	return db.Save(&storage.Session{Version: storage.LatestVersion, Data: raw}).Error
}
