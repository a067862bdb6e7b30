// Package config loads mulyachat client configuration from a JSON file
// with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Transport TransportConfig `json:"transport"`
	Typing    TypingConfig    `json:"typing"`
	Presence  PresenceConfig  `json:"presence"`
	History   HistoryConfig   `json:"history"`
	Directory DirectoryConfig `json:"directory"`
}

type ServerConfig struct {
	BaseURL string `env:"MULYACHAT_SERVER_BASE_URL" json:"base_url"`
	WSURL   string `env:"MULYACHAT_SERVER_WS_URL"   json:"ws_url"`
}

type TransportConfig struct {
	// QueueCap bounds the outbound queue held across disconnects; oldest
	// entries are dropped beyond the cap.
	QueueCap int `env:"MULYACHAT_TRANSPORT_QUEUE_CAP" json:"queue_cap"`
	// ReconnectSeconds is the delay before a reconnect attempt.
	ReconnectSeconds int `env:"MULYACHAT_TRANSPORT_RECONNECT_SECONDS" json:"reconnect_seconds"`
}

type TypingConfig struct {
	// IdleStopMillis is the keystroke inactivity window before an automatic
	// stop-typing is emitted.
	IdleStopMillis int `env:"MULYACHAT_TYPING_IDLE_STOP_MILLIS" json:"idle_stop_millis"`
	// ExpireMillis is how long a remote typer stays visible without a fresh
	// signal.
	ExpireMillis int `env:"MULYACHAT_TYPING_EXPIRE_MILLIS" json:"expire_millis"`
}

type PresenceConfig struct {
	RefreshSeconds int `env:"MULYACHAT_PRESENCE_REFRESH_SECONDS" json:"refresh_seconds"`
}

type HistoryConfig struct {
	Limit int `env:"MULYACHAT_HISTORY_LIMIT" json:"limit"`
}

type DirectoryConfig struct {
	// Path of the SQLite database holding per-user conversation lists.
	Path string `env:"MULYACHAT_DIRECTORY_PATH" json:"path"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8080",
			WSURL:   "ws://localhost:8080/ws",
		},
		Transport: TransportConfig{
			QueueCap:         256,
			ReconnectSeconds: 3,
		},
		Typing: TypingConfig{
			IdleStopMillis: 2000,
			ExpireMillis:   3000,
		},
		Presence: PresenceConfig{
			RefreshSeconds: 30,
		},
		History: HistoryConfig{
			Limit: 50,
		},
		Directory: DirectoryConfig{
			Path: filepath.Join(home, ".mulyachat", "directory.db"),
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// TypingIdleStop returns the sender-side inactivity window.
func (c *Config) TypingIdleStop() time.Duration {
	return time.Duration(c.Typing.IdleStopMillis) * time.Millisecond
}

// TypingExpire returns the receiver-side freshness window.
func (c *Config) TypingExpire() time.Duration {
	return time.Duration(c.Typing.ExpireMillis) * time.Millisecond
}

// PresenceRefresh returns the soft snapshot refresh interval.
func (c *Config) PresenceRefresh() time.Duration {
	return time.Duration(c.Presence.RefreshSeconds) * time.Second
}

// ReconnectDelay returns the delay between reconnect attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Transport.ReconnectSeconds) * time.Second
}
