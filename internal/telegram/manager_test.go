package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/storage"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blockedby/tgfetch/internal/config"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "session.db")), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestManager_InitWithoutSession(t *testing.T) {
	m := NewManager(config.Default(), newTestDB(t))
	called := false
	m.SetClientFactory(func(context.Context, *config.Config, *gorm.DB) (*gotgproto.Client, error) {
		called = true
		return nil, nil
	})

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
	assert.False(t, called, "factory must not run without a stored session")
	assert.Nil(t, m.GetClient())
}

func TestManager_InitFactoryFailure(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, saveSession(db, &session.Data{DC: 2}))

	m := NewManager(config.Default(), db)
	m.SetClientFactory(func(context.Context, *config.Config, *gorm.DB) (*gotgproto.Client, error) {
		return nil, errors.New("AUTH_KEY_UNREGISTERED")
	})

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
}

func TestManager_InitReady(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, saveSession(db, &session.Data{DC: 2}))

	client := &gotgproto.Client{}
	m := NewManager(config.Default(), db)
	m.SetClientFactory(func(context.Context, *config.Config, *gorm.DB) (*gotgproto.Client, error) {
		return client, nil
	})

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, StatusReady, m.GetStatus())
	assert.Same(t, client, m.GetClient())
}

func TestManager_StartQRWhenReady(t *testing.T) {
	m := NewManager(config.Default(), newTestDB(t))
	m.setStatus(StatusReady)

	err := m.StartQR(context.Background(), func(string) {})
	assert.EqualError(t, err, "already logged in")
	assert.False(t, m.IsQRInProgress())
}

func TestManager_StartQRFactoryError(t *testing.T) {
	m := NewManager(config.Default(), newTestDB(t))
	m.setStatus(StatusUnauthorized)
	m.SetQRClientFactory(func(*config.Config) (*QRClientBundle, error) {
		return nil, errors.New("no network")
	})

	err := m.StartQR(context.Background(), func(string) {})
	assert.ErrorContains(t, err, "no network")
	assert.False(t, m.IsQRInProgress())
}

func TestManager_MessageHooks(t *testing.T) {
	m := NewManager(config.Default(), newTestDB(t))
	var got []int
	m.OnMessage(func(_ context.Context, msg Message) { got = append(got, msg.ID) })
	m.OnMessage(func(_ context.Context, msg Message) { got = append(got, -msg.ID) })

	m.dispatchMessage(context.Background(), Message{ID: 7})
	assert.Equal(t, []int{7, -7}, got)
}

func TestSaveSession(t *testing.T) {
	db := newTestDB(t)
	data := &session.Data{DC: 4, Addr: "149.154.167.91:443", AuthKey: []byte{1, 2, 3}}

	require.NoError(t, saveSession(db, data))
	// saving twice keeps a single row
	require.NoError(t, saveSession(db, data))

	var rows []storage.Session
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, storage.LatestVersion, rows[0].Version)

	var restored session.Data
	require.NoError(t, json.Unmarshal(rows[0].Data, &restored))
	assert.Equal(t, 4, restored.DC)
	assert.Equal(t, data.AuthKey, restored.AuthKey)

	assert.Error(t, saveSession(db, nil))
}

func TestProxyResolver(t *testing.T) {
	r, err := proxyResolver(config.ProxyConfig{})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = proxyResolver(config.ProxyConfig{Enable: true, Scheme: "socks5", Hostname: "127.0.0.1", Port: 1080})
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestSessionDialector(t *testing.T) {
	_, err := sessionDialector("mysql", "x")
	assert.Error(t, err)

	d, err := sessionDialector("postgres", "host=localhost")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = sessionDialector("sqlite", ":memory:")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
}
