package pipetransport

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the on-disk shape of the [pipe] table in a corelink TOML
// file. shutdown_timeout takes Go duration syntax; shutdown_timeout_ms is the
// integer fallback and wins when both are set.
type FileConfig struct {
	Command           string   `toml:"command"`
	Args              []string `toml:"args"`
	Dir               string   `toml:"dir"`
	Env               []string `toml:"env"`
	ShutdownTimeout   string   `toml:"shutdown_timeout"`
	ShutdownTimeoutMs int      `toml:"shutdown_timeout_ms"`
}

// LoadConfig reads path and overlays any [pipe] keys it defines onto base.
// Keys absent from the file keep base's values.
func LoadConfig(path string, base Config) (Config, error) {
	var file struct {
		Pipe FileConfig `toml:"pipe"`
	}
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return base, fmt.Errorf("load pipe config %s: %w", path, err)
	}

	config := base
	pipe := file.Pipe
	if meta.IsDefined("pipe", "command") {
		config.Command = pipe.Command
	}
	if meta.IsDefined("pipe", "args") {
		config.Args = pipe.Args
	}
	if meta.IsDefined("pipe", "dir") {
		config.Dir = pipe.Dir
	}
	if meta.IsDefined("pipe", "env") {
		config.Env = pipe.Env
	}
	if meta.IsDefined("pipe", "shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(pipe.ShutdownTimeout))
		if err != nil {
			return base, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		config.ShutdownTimeout = d
	}
	if meta.IsDefined("pipe", "shutdown_timeout_ms") {
		config.ShutdownTimeout = time.Duration(pipe.ShutdownTimeoutMs) * time.Millisecond
	}
	return config, nil
}
