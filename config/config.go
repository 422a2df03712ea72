// Package config loads environment variables and provides the typed process Config.
// Bot state (watch list, Discord ids, Twitch credentials) lives in the state
// document, not here; this package only says where that document lives and how
// the process should run. Defaults let the binary start locally with a single
// config.json next to it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backends accepted in STATE_BACKEND.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// DefaultTokenRefreshCron refreshes the app access token at the top of every hour.
const DefaultTokenRefreshCron = "0 * * * *"

type Config struct {
	// State document
	StateBackend  string
	ConfigPath    string
	DBDsn         string
	EncryptionKey string

	// Overrides for values in the state document
	DiscordToken       string
	TwitchClientID     string
	TwitchClientSecret string

	// Scheduling / polling
	TokenRefreshCron   string
	MaxConcurrentPolls int
	HTTPTimeout        time.Duration

	// HTTP surface
	HTTPAddr string
}

// Load reads environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StateBackend = strings.ToLower(os.Getenv("STATE_BACKEND"))
	if cfg.StateBackend == "" {
		cfg.StateBackend = BackendFile
	}
	cfg.ConfigPath = os.Getenv("CONFIG_PATH")
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = "config.json"
	}
	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.EncryptionKey = os.Getenv("ENCRYPTION_KEY")

	cfg.DiscordToken = os.Getenv("DISCORD_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")

	cfg.TokenRefreshCron = os.Getenv("TOKEN_REFRESH_CRON")
	if cfg.TokenRefreshCron == "" {
		cfg.TokenRefreshCron = DefaultTokenRefreshCron
	}

	cfg.MaxConcurrentPolls = 4
	if v := os.Getenv("MAX_CONCURRENT_POLLS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_POLLS %q: must be a positive integer", v)
		}
		cfg.MaxConcurrentPolls = n
	}

	cfg.HTTPTimeout = 10 * time.Second
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid HTTP_TIMEOUT %q: must be a positive duration", v)
		}
		cfg.HTTPTimeout = d
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// Validate checks combinations Load cannot reject on its own.
func (c *Config) Validate() error {
	switch c.StateBackend {
	case BackendFile:
		if c.ConfigPath == "" {
			return fmt.Errorf("CONFIG_PATH is required for the file backend")
		}
	case BackendPostgres:
		if c.DBDsn == "" {
			return fmt.Errorf("DB_DSN is required when STATE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q (want %s or %s)", c.StateBackend, BackendFile, BackendPostgres)
	}
	return nil
}
