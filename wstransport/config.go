package wstransport

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the on-disk shape of the [websocket] table in a corelink TOML
// file. Durations take Go syntax ("45s", "250ms"); the *_ms integer keys are
// the fallback form and win when both are set.
type FileConfig struct {
	URL                string  `toml:"url"`
	HandshakeTimeout   string  `toml:"handshake_timeout"`
	HandshakeTimeoutMs int     `toml:"handshake_timeout_ms"`
	PingInterval       string  `toml:"ping_interval"`
	PingIntervalMs     int     `toml:"ping_interval_ms"`
	PongWait           string  `toml:"pong_wait"`
	PongWaitMs         int     `toml:"pong_wait_ms"`
	WriteTimeout       string  `toml:"write_timeout"`
	WriteTimeoutMs     int     `toml:"write_timeout_ms"`
	MaxMessageBytes    int64   `toml:"max_message_bytes"`
	ConnectAttempts    int     `toml:"connect_attempts"`
	BackoffInitial     string  `toml:"backoff_initial"`
	BackoffInitialMs   int     `toml:"backoff_initial_ms"`
	BackoffMax         string  `toml:"backoff_max"`
	BackoffMaxMs       int     `toml:"backoff_max_ms"`
	BackoffMultiplier  float64 `toml:"backoff_multiplier"`
	BackoffJitter      bool    `toml:"backoff_jitter"`
}

// LoadConfig reads path and overlays any [websocket] keys it defines onto
// base. Keys absent from the file keep base's values.
func LoadConfig(path string, base Config) (Config, error) {
	var file struct {
		Websocket FileConfig `toml:"websocket"`
	}
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return base, fmt.Errorf("load websocket config %s: %w", path, err)
	}

	config := base
	ws := file.Websocket
	if meta.IsDefined("websocket", "url") {
		config.URL = ws.URL
	}
	if meta.IsDefined("websocket", "handshake_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(ws.HandshakeTimeout))
		if err != nil {
			return base, fmt.Errorf("parse handshake_timeout: %w", err)
		}
		config.HandshakeTimeout = d
	}
	if meta.IsDefined("websocket", "handshake_timeout_ms") {
		config.HandshakeTimeout = time.Duration(ws.HandshakeTimeoutMs) * time.Millisecond
	}
	if meta.IsDefined("websocket", "ping_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(ws.PingInterval))
		if err != nil {
			return base, fmt.Errorf("parse ping_interval: %w", err)
		}
		config.PingInterval = d
	}
	if meta.IsDefined("websocket", "ping_interval_ms") {
		config.PingInterval = time.Duration(ws.PingIntervalMs) * time.Millisecond
	}
	if meta.IsDefined("websocket", "pong_wait") {
		d, err := time.ParseDuration(strings.TrimSpace(ws.PongWait))
		if err != nil {
			return base, fmt.Errorf("parse pong_wait: %w", err)
		}
		config.PongWait = d
	}
	if meta.IsDefined("websocket", "pong_wait_ms") {
		config.PongWait = time.Duration(ws.PongWaitMs) * time.Millisecond
	}
	if meta.IsDefined("websocket", "write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(ws.WriteTimeout))
		if err != nil {
			return base, fmt.Errorf("parse write_timeout: %w", err)
		}
		config.WriteTimeout = d
	}
	if meta.IsDefined("websocket", "write_timeout_ms") {
		config.WriteTimeout = time.Duration(ws.WriteTimeoutMs) * time.Millisecond
	}
	if meta.IsDefined("websocket", "max_message_bytes") {
		config.MaxMessageSize = ws.MaxMessageBytes
	}
	if meta.IsDefined("websocket", "connect_attempts") {
		config.ConnectAttempts = ws.ConnectAttempts
	}
	if meta.IsDefined("websocket", "backoff_initial") {
		d, err := time.ParseDuration(strings.TrimSpace(ws.BackoffInitial))
		if err != nil {
			return base, fmt.Errorf("parse backoff_initial: %w", err)
		}
		config.Backoff.InitialDelay = d
	}
	if meta.IsDefined("websocket", "backoff_initial_ms") {
		config.Backoff.InitialDelay = time.Duration(ws.BackoffInitialMs) * time.Millisecond
	}
	if meta.IsDefined("websocket", "backoff_max") {
		d, err := time.ParseDuration(strings.TrimSpace(ws.BackoffMax))
		if err != nil {
			return base, fmt.Errorf("parse backoff_max: %w", err)
		}
		config.Backoff.MaxDelay = d
	}
	if meta.IsDefined("websocket", "backoff_max_ms") {
		config.Backoff.MaxDelay = time.Duration(ws.BackoffMaxMs) * time.Millisecond
	}
	if meta.IsDefined("websocket", "backoff_multiplier") {
		config.Backoff.Multiplier = ws.BackoffMultiplier
	}
	if meta.IsDefined("websocket", "backoff_jitter") {
		config.Backoff.Jitter = ws.BackoffJitter
	}
	return config, nil
}
