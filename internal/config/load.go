package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/jbweber/marionette/internal/libvirt"
	"github.com/jbweber/marionette/internal/storage"
)

// EnvPrefix prefixes environment overrides: MARIONETTE_SERVER_LISTEN sets
// server.listen.
const EnvPrefix = "MARIONETTE"

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("libvirt.socket", libvirt.DefaultSocket)
	v.SetDefault("libvirt.timeout", libvirt.DefaultTimeout)
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.username", "")
	v.SetDefault("server.password", "")
	v.SetDefault("keyboard.layout", "us")
	v.SetDefault("clone.pool", storage.DefaultClonePool)
	v.SetDefault("clone.path", storage.DefaultClonePath)
	v.SetDefault("lock.dir", libvirt.DefaultLockDir)
	v.SetDefault("log.level", "info")
}

// DefaultDir returns ~/.config/marionette.
func DefaultDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".config", "marionette"), nil
}

// Load reads the configuration into v and returns it normalized and
// validated. With an empty path, config.yaml is looked up in DefaultDir and
// may be missing; an explicit path must exist. Flags bound to v with
// BindPFlag take precedence over everything else.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path %s: %w", path, err)
		}
		v.SetConfigFile(expanded)
	} else {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Normalize()
	if cfg.Clone.Path != "" {
		expanded, err := homedir.Expand(cfg.Clone.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand clone.path: %w", err)
		}
		cfg.Clone.Path = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
