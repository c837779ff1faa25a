// Package reload applies an updated interface config to the running
// WireGuard device. It prefers wg syncconf, which updates the peer set
// without dropping live sessions, and falls back to a full wg-quick
// down/up cycle when syncconf is unavailable or fails.
package reload

import (
	"context"
	"fmt"
	"time"

	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
	"github.com/arvelin/wg-provision/pkg/logger"
)

// Mode records which reload strategy ended up applying the config.
type Mode string

const (
	ModeSync    Mode = "syncconf"
	ModeRestart Mode = "restart"
)

// Runner executes a shell command and returns its combined output.
// Production uses exec; tests inject a fake.
type Runner interface {
	Run(ctx context.Context, command string) ([]byte, error)
}

// Result describes a completed reload.
type Result struct {
	Mode     Mode
	Duration time.Duration
}

// Coordinator reloads one WireGuard interface from its config file.
type Coordinator struct {
	interfaceName string
	configPath    string
	timeout       time.Duration
	runner        Runner
	logger        *logger.Logger
}

// New creates a reload coordinator for the named interface.
func New(interfaceName, configPath string, timeout time.Duration, runner Runner, log *logger.Logger) *Coordinator {
	return &Coordinator{
		interfaceName: interfaceName,
		configPath:    configPath,
		timeout:       timeout,
		runner:        runner,
		logger:        log.WithComponent("reload"),
	}
}

// Apply pushes the on-disk config to the running interface. syncconf keeps
// established peers connected; only when it fails does Apply restart the
// interface, which briefly interrupts all tunnels.
func (c *Coordinator) Apply(ctx context.Context) (*Result, error) {
	start := time.Now()

	syncErr := c.syncconf(ctx)
	if syncErr == nil {
		res := &Result{Mode: ModeSync, Duration: time.Since(start)}
		c.logger.Info("interface reloaded",
			"interface", c.interfaceName, "mode", string(res.Mode),
			"duration", res.Duration)
		return res, nil
	}

	c.logger.Warn("syncconf failed, restarting interface",
		"interface", c.interfaceName, "error", syncErr)

	if err := c.restart(ctx); err != nil {
		return nil, sharedErrors.NewInterfaceError(sharedErrors.ErrCodeReloadFailed,
			"failed to reload interface", true, err).
			WithMetadata("interface", c.interfaceName).
			WithMetadata("syncconf_error", syncErr.Error())
	}

	res := &Result{Mode: ModeRestart, Duration: time.Since(start)}
	c.logger.Info("interface reloaded",
		"interface", c.interfaceName, "mode", string(res.Mode),
		"duration", res.Duration)
	return res, nil
}

// syncconf strips the wg-quick-only fields (Address, DNS, PostUp/PostDown)
// and feeds the rest to the kernel. Process substitution needs a real shell,
// so the runner gets the full pipeline as one command.
func (c *Coordinator) syncconf(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := fmt.Sprintf("wg syncconf %s <(wg-quick strip %s)",
		c.interfaceName, c.configPath)
	out, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("wg syncconf: %w (output: %s)", err, string(out))
	}
	return nil
}

func (c *Coordinator) restart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// down may fail when the interface is not up yet; only up is fatal.
	if out, err := c.runner.Run(ctx, fmt.Sprintf("wg-quick down %s", c.interfaceName)); err != nil {
		c.logger.Debug("wg-quick down failed, continuing",
			"interface", c.interfaceName, "output", string(out), "error", err)
	}

	out, err := c.runner.Run(ctx, fmt.Sprintf("wg-quick up %s", c.interfaceName))
	if err != nil {
		return fmt.Errorf("wg-quick up: %w (output: %s)", err, string(out))
	}
	return nil
}
