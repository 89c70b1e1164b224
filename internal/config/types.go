// Package config loads marionette's settings from defaults, a YAML config
// file, MARIONETTE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/marionette/internal/keyboard"
)

// Config represents the complete marionette configuration.
type Config struct {
	Libvirt  LibvirtConfig  `mapstructure:"libvirt"`
	Server   ServerConfig   `mapstructure:"server"`
	Keyboard KeyboardConfig `mapstructure:"keyboard"`
	Clone    CloneConfig    `mapstructure:"clone"`
	Lock     LockConfig     `mapstructure:"lock"`
	Log      LogConfig      `mapstructure:"log"`
}

// LibvirtConfig selects the libvirt daemon.
type LibvirtConfig struct {
	Socket  string        `mapstructure:"socket"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig configures the HTTP session API.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// Username and Password enable basic auth on session creation when
	// both are set.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthEnabled reports whether basic auth is configured.
func (s ServerConfig) AuthEnabled() bool {
	return s.Username != "" && s.Password != ""
}

// KeyboardConfig selects the default keyboard layout.
type KeyboardConfig struct {
	Layout string `mapstructure:"layout"`
}

// CloneConfig is the storage pool that holds clone overlays.
type CloneConfig struct {
	Pool string `mapstructure:"pool"`
	Path string `mapstructure:"path"` // Target directory of the pool if marionette creates it
}

// LockConfig is where session lock files live.
type LockConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Normalize sanitizes user input to consistent formats.
func (c *Config) Normalize() {
	c.Keyboard.Layout = strings.ToLower(strings.TrimSpace(c.Keyboard.Layout))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Clone.Pool = strings.TrimSpace(c.Clone.Pool)
	if c.Clone.Path != "" {
		c.Clone.Path = filepath.Clean(c.Clone.Path)
	}
	if c.Lock.Dir != "" {
		c.Lock.Dir = filepath.Clean(c.Lock.Dir)
	}
}

// Validate checks the configuration for errors.
// Does not contact libvirt; only the structure is checked.
func (c *Config) Validate() error {
	if c.Libvirt.Socket == "" {
		return fmt.Errorf("libvirt.socket is required")
	}
	if c.Libvirt.Timeout <= 0 {
		return fmt.Errorf("libvirt.timeout must be > 0, got %s", c.Libvirt.Timeout)
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen: invalid address %q: %w", c.Server.Listen, err)
	}
	if (c.Server.Username == "") != (c.Server.Password == "") {
		return fmt.Errorf("server.username and server.password must be set together")
	}

	if _, err := keyboard.Lookup(c.Keyboard.Layout); err != nil {
		return fmt.Errorf("keyboard.layout: %w", err)
	}

	if c.Clone.Pool == "" {
		return fmt.Errorf("clone.pool is required")
	}
	if c.Clone.Path != "" && !filepath.IsAbs(c.Clone.Path) {
		return fmt.Errorf("clone.path must be absolute, got %q", c.Clone.Path)
	}
	if !filepath.IsAbs(c.Lock.Dir) {
		return fmt.Errorf("lock.dir must be absolute, got %q", c.Lock.Dir)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
