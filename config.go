package vard

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultListenProto is the network the server binds by default.
	// Unix-domain sockets keep the registry host-local, matching the
	// typical deployment of a variable server as a system service.
	DefaultListenProto = "unix"
	// DefaultSocketName is the socket file created under the runtime
	// directory when Listen is empty.
	DefaultSocketName = "vard.sock"
	// DefaultMetricsListen is the Prometheus scrape endpoint; empty
	// disables metrics.
	DefaultMetricsListen = ""
	// DefaultWatchTimeout bounds watch long-polls without an explicit
	// client timeout.
	DefaultWatchTimeout = 30 * time.Second
	// DefaultShutdownTimeout caps graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultConfigFileName is the YAML config file looked up under the
	// config directory.
	DefaultConfigFileName = "vard.yaml"
)

// Config controls a vard server instance.
type Config struct {
	// ListenProto is the listener network: "unix", "tcp", "tcp4" or "tcp6".
	ListenProto string `yaml:"listen-proto"`
	// Listen is the socket path (unix) or address (tcp). Empty selects the
	// default socket path under the runtime directory.
	Listen string `yaml:"listen"`
	// MetricsListen is the Prometheus scrape address; empty disables the
	// metrics listener.
	MetricsListen string `yaml:"metrics-listen"`
	// Preload is an optional YAML file of variable definitions loaded at
	// startup and reloaded when the file changes.
	Preload string `yaml:"preload"`
	// PreloadWatch enables reloading the preload file on change.
	PreloadWatch bool `yaml:"preload-watch"`
	// WatchTimeout bounds watch long-polls without a client timeout.
	WatchTimeout time.Duration `yaml:"watch-timeout"`
	// ShutdownTimeout caps graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`
	// LogLevel sets the minimum log level when the CLI drives the server.
	LogLevel string `yaml:"log-level"`
}

// Validate normalises the configuration and rejects unusable values.
func (c *Config) Validate() error {
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	switch c.ListenProto {
	case "unix", "tcp", "tcp4", "tcp6":
	default:
		return fmt.Errorf("config: unsupported listen proto %q", c.ListenProto)
	}
	if c.Listen == "" {
		if c.ListenProto != "unix" {
			return fmt.Errorf("config: listen address required for %s", c.ListenProto)
		}
		c.Listen = filepath.Join(DefaultRuntimeDir(), DefaultSocketName)
	}
	if c.WatchTimeout <= 0 {
		c.WatchTimeout = DefaultWatchTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}

// DefaultRuntimeDir returns the directory for the default unix socket:
// $XDG_RUNTIME_DIR when set, otherwise the system temp directory.
func DefaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

// DefaultConfigDir returns the per-user config directory for vard.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vard"), nil
}
