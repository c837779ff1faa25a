package config

import (
	"fmt"
	"net"
	"path/filepath"
)

// Config holds the wg-provision application configuration.
type Config struct {
	// Interface settings
	InterfaceName    string `mapstructure:"interface"`
	SubnetCIDR       string `mapstructure:"subnet"`
	ServerHostOffset int    `mapstructure:"server_host_offset"`
	EndpointHost     string `mapstructure:"endpoint_host"`
	ListenPort       int    `mapstructure:"listen_port"`
	DNS              string `mapstructure:"dns"`
	KeepaliveSec     int    `mapstructure:"keepalive"`
	NATInterface     string `mapstructure:"nat_interface"`

	// Artifact locations
	ConfigDir    string `mapstructure:"config_dir"`
	RegistryPath string `mapstructure:"registry_path"`
	ProfileDir   string `mapstructure:"profile_dir"`
	KeyDir       string `mapstructure:"key_dir"`
	AuditLogPath string `mapstructure:"audit_log"`
	LockPath     string `mapstructure:"lock_path"`
	InstallPath  string `mapstructure:"install_path"`

	// Operational settings
	ReloadTimeoutSec  int    `mapstructure:"reload_timeout"`
	InstallTimeoutSec int    `mapstructure:"install_timeout"`
	LogLevel          string `mapstructure:"log_level"`
	LogFormat         string `mapstructure:"log_format"`
}

// InterfaceConfigPath returns the path of the server interface config artifact.
func (c *Config) InterfaceConfigPath() string {
	return filepath.Join(c.ConfigDir, c.InterfaceName+".conf")
}

// Subnet parses the configured subnet CIDR.
func (c *Config) Subnet() (*net.IPNet, error) {
	_, network, err := net.ParseCIDR(c.SubnetCIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet %q: %w", c.SubnetCIDR, err)
	}
	if network.IP.To4() == nil {
		return nil, fmt.Errorf("subnet %q is not an IPv4 network", c.SubnetCIDR)
	}
	return network, nil
}
