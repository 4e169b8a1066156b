// Package config loads the YAML configuration file, applies .env and
// environment overrides, and keeps timestamped history backups.
package config

import (
	"bytes"
	"errors"
	"io"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the config file lives unless --config says otherwise.
const DefaultPath = "config/config.yaml"

var (
	ErrMissingCredentials = errors.New("api_id, api_hash and bot_token are required")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// media kinds accepted in download_type / forward_type
var knownTypes = map[string]bool{
	"video":     true,
	"photo":     true,
	"document":  true,
	"audio":     true,
	"voice":     true,
	"animation": true,
	"text":      true,
}

// Config holds all application configuration.
type Config struct {
	Telegram      TelegramConfig `yaml:"telegram"`
	Proxy         ProxyConfig    `yaml:"proxy"`
	Session       SessionConfig  `yaml:"session"`
	SaveDirectory string         `yaml:"save_directory"`
	Links         []string       `yaml:"links"` // downloaded once on start
	MaxTasks      TaskLimits     `yaml:"max_tasks"`
	MaxRetries    TaskLimits     `yaml:"max_retries"`
	DownloadType  []string       `yaml:"download_type"`
	ForwardType   []string       `yaml:"forward_type"`
	Upload        UploadConfig   `yaml:"upload"`
	Notice        bool           `yaml:"notice"`
	HTTP          HTTPConfig     `yaml:"http"`
	NATS          NATSConfig     `yaml:"nats"`
	Log           LogConfig      `yaml:"log"`
}

type TelegramConfig struct {
	APIID        int           `yaml:"api_id"`
	APIHash      string        `yaml:"api_hash"`
	BotToken     string        `yaml:"bot_token"`
	AllowedUsers []int64       `yaml:"allowed_users"` // empty = only the logged in account
	CallTimeout  time.Duration `yaml:"call_timeout"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second
	RateBurst    int           `yaml:"rate_burst"`
}

type ProxyConfig struct {
	Enable   bool   `yaml:"enable_proxy"`
	Scheme   string `yaml:"scheme"`
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Addr returns host:port of the proxy.
func (p ProxyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.Hostname, p.Port)
}

type SessionConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
	BotDSN string `yaml:"bot_dsn"`
}

// TaskLimits is a per-kind integer setting.
type TaskLimits struct {
	Download int `yaml:"download"`
	Upload   int `yaml:"upload"`
}

type UploadConfig struct {
	AfterDownload     bool   `yaml:"after_download"`
	Target            string `yaml:"target"`
	DeleteAfterUpload bool   `yaml:"delete_after_upload"`
}

type HTTPConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type NATSConfig struct {
	URL     string `yaml:"url"` // empty disables publishing
	Subject string `yaml:"subject"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns a config with every optional field filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Telegram.CallTimeout <= 0 {
		c.Telegram.CallTimeout = 100 * time.Second
	}
	if c.Telegram.RateLimit <= 0 {
		c.Telegram.RateLimit = 2.0
	}
	if c.Telegram.RateBurst <= 0 {
		c.Telegram.RateBurst = 1
	}
	if c.Session.Driver == "" {
		c.Session.Driver = "sqlite"
	}
	if c.Session.DSN == "" && c.Session.Driver == "sqlite" {
		c.Session.DSN = "sessions/user.db"
	}
	if c.Session.BotDSN == "" {
		c.Session.BotDSN = "sessions/bot.db"
	}
	if c.SaveDirectory == "" {
		c.SaveDirectory = "download"
	}
	if c.MaxTasks.Download <= 0 {
		c.MaxTasks.Download = 5
	}
	if c.MaxTasks.Upload <= 0 {
		c.MaxTasks.Upload = 3
	}
	if c.MaxRetries.Download <= 0 {
		c.MaxRetries.Download = 5
	}
	if c.MaxRetries.Upload <= 0 {
		c.MaxRetries.Upload = 3
	}
	if len(c.DownloadType) == 0 {
		c.DownloadType = []string{"video", "photo", "document", "audio", "voice", "animation"}
	}
	if len(c.ForwardType) == 0 {
		c.ForwardType = []string{"video", "photo", "document", "audio", "voice", "animation", "text"}
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 3100
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "tgfetch.tasks"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the config once after defaults are applied.
func (c *Config) Validate() error {
	if c.Telegram.APIID <= 0 || c.Telegram.APIHash == "" || c.Telegram.BotToken == "" {
		return ErrMissingCredentials
	}
	if c.Proxy.Enable {
		if c.Proxy.Scheme != "socks5" {
			return fmt.Errorf("%w: proxy scheme %q not supported, use socks5", ErrInvalidConfig, c.Proxy.Scheme)
		}
		if c.Proxy.Hostname == "" || c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
			return fmt.Errorf("%w: proxy hostname and port are required", ErrInvalidConfig)
		}
	}
	switch c.Session.Driver {
	case "sqlite":
	case "postgres":
		if c.Session.DSN == "" {
			return fmt.Errorf("%w: session.dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown session driver %q", ErrInvalidConfig, c.Session.Driver)
	}
	for _, list := range [][]string{c.DownloadType, c.ForwardType} {
		for _, t := range list {
			if !knownTypes[t] {
				return fmt.Errorf("%w: unknown media type %q", ErrInvalidConfig, t)
			}
		}
	}
	if c.Upload.AfterDownload && c.Upload.Target == "" {
		return fmt.Errorf("%w: upload.target is required when upload.after_download is set", ErrInvalidConfig)
	}
	return nil
}

// Load reads the config via Read and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads path, falling back to the newest readable history backup when the
// file itself is corrupt, then applies env overrides and defaults. A missing
// file is not an error: env vars alone can configure the app.
func Read(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := readFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		backup, _, berr := LatestBackup(BackupDir(path))
		if berr != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		cfg = backup
	}
	if cfg == nil {
		cfg = &Config{}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &cfg, nil
}

// Parse strictly decodes data, rejecting unknown keys, and applies defaults.
// Environment overrides are not consulted.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Telegram.APIID = getEnvInt("TG_API_ID", c.Telegram.APIID)
	c.Telegram.APIHash = getEnv("TG_API_HASH", c.Telegram.APIHash)
	c.Telegram.BotToken = getEnv("TG_BOT_TOKEN", c.Telegram.BotToken)
	c.Session.DSN = getEnv("SESSION_DSN", c.Session.DSN)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.HTTP.Port = getEnvInt("HTTP_PORT", c.HTTP.Port)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// Save writes cfg to path, moving the previous file into the history directory first.
func Save(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		if _, err := Backup(path, time.Now()); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
