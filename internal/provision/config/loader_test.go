package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoader_Load_Defaults(t *testing.T) {
	os.Unsetenv("WG_PROVISION_SUBNET")

	// Mock home directory to avoid picking up a real config file
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	loader := NewLoader()
	cfg, err := loader.Load()

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}

	if cfg.InterfaceName != "wg0" {
		t.Errorf("wrong InterfaceName: got %s", cfg.InterfaceName)
	}
	if cfg.SubnetCIDR != "10.66.66.0/24" {
		t.Errorf("wrong SubnetCIDR: got %s", cfg.SubnetCIDR)
	}
	if cfg.ServerHostOffset != 1 {
		t.Errorf("wrong ServerHostOffset: got %d", cfg.ServerHostOffset)
	}
	if cfg.ListenPort != 51820 {
		t.Errorf("wrong ListenPort: got %d", cfg.ListenPort)
	}
	if cfg.KeepaliveSec != 25 {
		t.Errorf("wrong KeepaliveSec: got %d", cfg.KeepaliveSec)
	}
	if cfg.InterfaceConfigPath() != "/etc/wireguard/wg0.conf" {
		t.Errorf("wrong interface config path: got %s", cfg.InterfaceConfigPath())
	}
}

func TestLoader_Load_FromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("WG_PROVISION_SUBNET", "10.99.0.0/24")
	t.Setenv("WG_PROVISION_LOG_LEVEL", "warn")
	t.Setenv("WG_PROVISION_ENDPOINT_HOST", "vpn.example.net")

	loader := NewLoader()
	cfg, err := loader.Load()

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.SubnetCIDR != "10.99.0.0/24" {
		t.Errorf("wrong SubnetCIDR: got %s", cfg.SubnetCIDR)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("wrong LogLevel: got %s", cfg.LogLevel)
	}
	if cfg.EndpointHost != "vpn.example.net" {
		t.Errorf("wrong EndpointHost: got %s", cfg.EndpointHost)
	}
}

func TestLoader_Load_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	path := filepath.Join(tmpDir, "wg-provision.yaml")
	content := "interface: wgtest\nsubnet: 172.16.0.0/24\nlisten_port: 52000\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadWithPath(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.InterfaceName != "wgtest" {
		t.Errorf("wrong InterfaceName: got %s", cfg.InterfaceName)
	}
	if cfg.SubnetCIDR != "172.16.0.0/24" {
		t.Errorf("wrong SubnetCIDR: got %s", cfg.SubnetCIDR)
	}
	if cfg.ListenPort != 52000 {
		t.Errorf("wrong ListenPort: got %d", cfg.ListenPort)
	}
	if cfg.InterfaceConfigPath() != "/etc/wireguard/wgtest.conf" {
		t.Errorf("wrong interface config path: got %s", cfg.InterfaceConfigPath())
	}
}

func TestLoader_Validation(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cases := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{"invalid subnet", "subnet", "not-a-cidr", "invalid subnet"},
		{"subnet too small", "subnet", "10.0.0.0/31", "too small"},
		{"invalid listen port", "listen_port", 70000, "listen_port"},
		{"negative keepalive", "keepalive", -1, "keepalive"},
		{"invalid log_level", "log_level", "trace", "invalid log_level"},
		{"invalid log_format", "log_format", "xml", "invalid log_format"},
		{"empty interface", "interface", "", "interface name is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loader := NewLoader()
			loader.v.Set(tc.key, tc.value)
			_, err := loader.Load()
			if err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error to contain %q, got '%v'", tc.wantErr, err)
			}
		})
	}
}
