package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from files and environment variables.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()
	l.setupConfigPaths()
	l.setupEnvVars()

	// Try to read config file (it's optional)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults + env vars
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithPath loads configuration from a specific file path.
func LoadWithPath(path string) (*Config, error) {
	loader := NewLoader()
	loader.setDefaults()
	loader.setupEnvVars()

	loader.v.SetConfigFile(path)

	if err := loader.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := loader.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := loader.validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("interface", "wg0")
	l.v.SetDefault("subnet", "10.66.66.0/24")
	l.v.SetDefault("server_host_offset", 1)
	l.v.SetDefault("endpoint_host", "")
	l.v.SetDefault("listen_port", 51820)
	l.v.SetDefault("dns", "1.1.1.1,1.0.0.1")
	l.v.SetDefault("keepalive", 25)
	l.v.SetDefault("nat_interface", "eth0")
	l.v.SetDefault("config_dir", "/etc/wireguard")
	l.v.SetDefault("registry_path", "/etc/wireguard/users.txt")
	l.v.SetDefault("profile_dir", "/etc/wireguard/clients")
	l.v.SetDefault("key_dir", "/etc/wireguard/keys")
	l.v.SetDefault("audit_log", "/var/log/wg-provision.log")
	l.v.SetDefault("lock_path", "/run/wg-provision.lock")
	l.v.SetDefault("install_path", "/usr/local/bin/wg-provision")
	l.v.SetDefault("reload_timeout", 15)
	l.v.SetDefault("install_timeout", 300)
	l.v.SetDefault("log_level", "info")
	l.v.SetDefault("log_format", "text")
}

// setupConfigPaths configures where to search for config files.
func (l *Loader) setupConfigPaths() {
	l.v.SetConfigName("wg-provision")
	l.v.SetConfigType("yaml")

	// Search paths in priority order
	l.v.AddConfigPath("/etc/wg-provision")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath(".")
}

// setupEnvVars configures environment variable handling.
func (l *Loader) setupEnvVars() {
	l.v.SetEnvPrefix("WG_PROVISION")
	l.v.AutomaticEnv()
}

// validate validates the configuration.
func (l *Loader) validate(cfg *Config) error {
	if cfg.InterfaceName == "" {
		return fmt.Errorf("interface name is required")
	}

	network, err := cfg.Subnet()
	if err != nil {
		return err
	}

	ones, bits := network.Mask.Size()
	if bits-ones < 2 {
		return fmt.Errorf("subnet %s is too small to hold any peer", cfg.SubnetCIDR)
	}

	if cfg.ServerHostOffset < 1 {
		return fmt.Errorf("server_host_offset must be at least 1")
	}

	if cfg.ListenPort < 1 || cfg.ListenPort > 65535 {
		return fmt.Errorf("listen_port must be between 1 and 65535")
	}

	if cfg.KeepaliveSec < 0 {
		return fmt.Errorf("keepalive must not be negative")
	}

	if cfg.ReloadTimeoutSec < 1 {
		return fmt.Errorf("reload_timeout must be at least 1 second")
	}

	if cfg.RegistryPath == "" || cfg.ConfigDir == "" || cfg.ProfileDir == "" || cfg.KeyDir == "" {
		return fmt.Errorf("registry_path, config_dir, profile_dir and key_dir are required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", cfg.LogFormat)
	}

	return nil
}
