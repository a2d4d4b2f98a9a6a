package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Config represents the global ~/.albumchat/config.toml. Every field can be
// overridden by its environment variable.
type Config struct {
	DefaultProfile string        `toml:"default_profile" env:"ALBUMCHAT_PROFILE"`
	APIBaseURL     string        `toml:"api_base_url" env:"ALBUMCHAT_API_BASE_URL"`
	ChatURL        string        `toml:"chat_url" env:"ALBUMCHAT_CHAT_URL"`
	HistoryPath    string        `toml:"history_path" env:"ALBUMCHAT_HISTORY_PATH"`
	RequestTimeout time.Duration `toml:"request_timeout" env:"ALBUMCHAT_REQUEST_TIMEOUT"`
	ReconnectDelay time.Duration `toml:"reconnect_delay" env:"ALBUMCHAT_RECONNECT_DELAY"`
	MaxRetries     int           `toml:"max_retries" env:"ALBUMCHAT_MAX_RETRIES"`
	Outbox         bool          `toml:"outbox" env:"ALBUMCHAT_OUTBOX"`
	LogLevel       string        `toml:"log_level" env:"ALBUMCHAT_LOG_LEVEL"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		APIBaseURL:     "http://localhost:8080/api/v1",
		ChatURL:        "ws://localhost:8086/v1/chat",
		HistoryPath:    "/chat/history",
		RequestTimeout: 10 * time.Second,
		ReconnectDelay: 5 * time.Second,
		MaxRetries:     5,
		Outbox:         true,
		LogLevel:       "info",
	}
}

// Load reads config from the given path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at dial time.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if c.ChatURL == "" {
		return errors.New("chat_url is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect_delay must not be negative, got %s", c.ReconnectDelay)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return writeTOML(path, cfg)
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
