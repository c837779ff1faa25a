package bootstrap

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
	"github.com/arvelin/wg-provision/pkg/logger"
)

// PackageInstaller installs the WireGuard userspace tools. Production shells
// out to the host package manager; tests inject a no-op.
type PackageInstaller interface {
	EnsureInstalled(ctx context.Context) error
}

// SystemInstaller drives whichever of apt-get, dnf, or yum the host carries.
type SystemInstaller struct {
	timeout time.Duration
	runner  CommandRunner
	lookup  func(name string) (string, error)
	logger  *logger.Logger
}

// CommandRunner executes a shell command, returning combined output.
type CommandRunner interface {
	Run(ctx context.Context, command string) ([]byte, error)
}

// NewSystemInstaller creates an installer using the host package manager.
func NewSystemInstaller(timeout time.Duration, runner CommandRunner, log *logger.Logger) *SystemInstaller {
	return &SystemInstaller{
		timeout: timeout,
		runner:  runner,
		lookup:  exec.LookPath,
		logger:  log.WithComponent("installer"),
	}
}

// installCommands maps each supported package manager to its non-interactive
// install invocation for the WireGuard tools.
var installCommands = []struct {
	manager string
	command string
}{
	{"apt-get", "apt-get update && DEBIAN_FRONTEND=noninteractive apt-get install -y wireguard wireguard-tools iptables"},
	{"dnf", "dnf install -y wireguard-tools iptables"},
	{"yum", "yum install -y epel-release && yum install -y wireguard-tools iptables"},
}

// EnsureInstalled detects the package manager and installs the WireGuard
// tools. Already-installed packages make this a fast no-op on every manager.
func (i *SystemInstaller) EnsureInstalled(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	for _, entry := range installCommands {
		if _, err := i.lookup(entry.manager); err != nil {
			continue
		}

		i.logger.Info("installing wireguard tools", "package_manager", entry.manager)
		out, err := i.runner.Run(ctx, entry.command)
		if err != nil {
			return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
				fmt.Sprintf("package installation via %s failed", entry.manager), false, err).
				WithMetadata("output", string(out))
		}
		return nil
	}

	return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
		"no supported package manager found (need apt-get, dnf, or yum)", false, nil)
}
