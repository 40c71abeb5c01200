package corelink

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ClientConfig is the on-disk shape of the [client] table in a corelink TOML
// file. Durations take Go syntax ("5s", "250ms"); the *_ms integer keys are
// the fallback form and win when both are set.
type ClientConfig struct {
	ConnectTimeout        string `toml:"connect_timeout"`
	ConnectTimeoutMs      int    `toml:"connect_timeout_ms"`
	RequestTimeout        string `toml:"request_timeout"`
	RequestTimeoutMs      int    `toml:"request_timeout_ms"`
	AutoReconnect         bool   `toml:"auto_reconnect"`
	AutoReconnectInterval string `toml:"auto_reconnect_interval"`
	AutoReconnectMs       int    `toml:"auto_reconnect_ms"`
}

type fileConfig struct {
	Client ClientConfig `toml:"client"`
}

// LoadClientOptions reads path and overlays any [client] keys it defines onto
// base. Keys absent from the file keep base's values, so a minimal file only
// states what it changes. auto_reconnect = false disables reconnection
// permanently and wins over both interval keys.
func LoadClientOptions(path string, base Options) (Options, error) {
	var file fileConfig
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return base, fmt.Errorf("load client config %s: %w", path, err)
	}

	options := base
	if meta.IsDefined("client", "connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(file.Client.ConnectTimeout))
		if err != nil {
			return base, fmt.Errorf("parse connect_timeout: %w", err)
		}
		options.ConnectTimeout = d
	}
	if meta.IsDefined("client", "connect_timeout_ms") {
		options.ConnectTimeout = time.Duration(file.Client.ConnectTimeoutMs) * time.Millisecond
	}
	if meta.IsDefined("client", "request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(file.Client.RequestTimeout))
		if err != nil {
			return base, fmt.Errorf("parse request_timeout: %w", err)
		}
		options.RequestTimeout = d
	}
	if meta.IsDefined("client", "request_timeout_ms") {
		options.RequestTimeout = time.Duration(file.Client.RequestTimeoutMs) * time.Millisecond
	}
	if meta.IsDefined("client", "auto_reconnect_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(file.Client.AutoReconnectInterval))
		if err != nil {
			return base, fmt.Errorf("parse auto_reconnect_interval: %w", err)
		}
		options.AutoReconnectInterval = d
	}
	if meta.IsDefined("client", "auto_reconnect_ms") {
		options.AutoReconnectInterval = time.Duration(file.Client.AutoReconnectMs) * time.Millisecond
	}
	if meta.IsDefined("client", "auto_reconnect") && !file.Client.AutoReconnect {
		options.AutoReconnectInterval = -1
	}
	return options, nil
}
