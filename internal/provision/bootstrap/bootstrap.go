// Package bootstrap performs the one-time server installation: packages, IP
// forwarding, server identity, base interface config, and self-installation
// of the binary. Any failure here is fatal since no useful state exists yet.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/arvelin/wg-provision/internal/provision/config"
	"github.com/arvelin/wg-provision/internal/provision/events"
	"github.com/arvelin/wg-provision/internal/provision/keystore"
	"github.com/arvelin/wg-provision/internal/provision/syncer"
	"github.com/arvelin/wg-provision/internal/provision/wgconf"
	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
	"github.com/arvelin/wg-provision/pkg/crypto"
	"github.com/arvelin/wg-provision/pkg/logger"
)

// sysctlDropIn is where IP forwarding is enabled persistently.
const sysctlDropIn = "/etc/sysctl.d/99-wg-provision.conf"

// KeyProvider generates the server keypair during installation.
type KeyProvider interface {
	GenerateKeyPair() (*crypto.KeyPair, error)
}

// Bootstrapper runs the installation sequence.
type Bootstrapper struct {
	cfg       *config.Config
	keys      *keystore.Store
	keygen    KeyProvider
	installer PackageInstaller
	runner    CommandRunner
	bus       *events.Bus
	logger    *logger.Logger

	sysctlPath string
}

// New creates a bootstrapper.
func New(cfg *config.Config, keys *keystore.Store, keygen KeyProvider,
	installer PackageInstaller, runner CommandRunner, bus *events.Bus, log *logger.Logger) *Bootstrapper {
	return &Bootstrapper{
		cfg:        cfg,
		keys:       keys,
		keygen:     keygen,
		installer:  installer,
		runner:     runner,
		bus:        bus,
		logger:     log.WithComponent("bootstrap"),
		sysctlPath: sysctlDropIn,
	}
}

// Run executes the full installation. It is idempotent: rerunning on an
// installed server refreshes packages and forwarding but never regenerates
// an existing server key or clobbers an interface config that has peers.
func (b *Bootstrapper) Run(ctx context.Context) error {
	opID := uuid.NewString()
	ctx = logger.WithOperationID(ctx, opID)
	op := b.logger.StartOp(ctx, "bootstrap", "interface", b.cfg.InterfaceName)

	if err := b.installer.EnsureInstalled(ctx); err != nil {
		op.Fail(err, "")
		return err
	}
	op.Progress("packages installed")

	if err := b.enableIPForwarding(ctx); err != nil {
		op.Fail(err, "")
		return err
	}
	op.Progress("ip forwarding enabled")

	id, err := b.ensureServerIdentity()
	if err != nil {
		op.Fail(err, "")
		return err
	}
	op.Progress("server identity ready")

	if err := b.ensureInterfaceConfig(id); err != nil {
		op.Fail(err, "")
		return err
	}

	if err := b.activateInterface(ctx); err != nil {
		op.Fail(err, "")
		return err
	}
	op.Progress("interface active")

	if err := b.selfInstall(); err != nil {
		op.Fail(err, "")
		return err
	}

	b.bus.PublishBootstrapCompleted(opID, b.cfg.InterfaceName, id.Endpoint())
	op.Complete("bootstrap completed", "endpoint", id.Endpoint())
	return nil
}

func (b *Bootstrapper) enableIPForwarding(ctx context.Context) error {
	content := "net.ipv4.ip_forward = 1\n"
	if err := os.WriteFile(b.sysctlPath, []byte(content), 0o644); err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
			"failed to write sysctl drop-in", false, err).WithMetadata("path", b.sysctlPath)
	}

	if out, err := b.runner.Run(ctx, "sysctl --system"); err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
			"failed to apply sysctl settings", false, err).WithMetadata("output", string(out))
	}
	return nil
}

// ensureServerIdentity generates the server keypair on first install and
// reuses it afterwards, so reinstalling never invalidates client profiles.
func (b *Bootstrapper) ensureServerIdentity() (syncer.ServerIdentity, error) {
	if !b.keys.Exists(keystore.ServerKeyName) {
		kp, err := b.keygen.GenerateKeyPair()
		if err != nil {
			return syncer.ServerIdentity{}, sharedErrors.NewSystemError(
				sharedErrors.ErrCodeBootstrapFailed,
				"failed to generate server key pair", false, err)
		}
		if err := b.keys.Write(keystore.ServerKeyName, kp.PrivateKey, kp.PublicKey); err != nil {
			return syncer.ServerIdentity{}, sharedErrors.NewSystemError(
				sharedErrors.ErrCodeBootstrapFailed,
				"failed to store server key pair", false, err)
		}
		b.logger.Info("generated server key pair", "public_key", kp.PublicKey)
	}

	id, err := syncer.LoadIdentity(b.cfg, b.keys)
	if err != nil {
		return syncer.ServerIdentity{}, sharedErrors.NewSystemError(
			sharedErrors.ErrCodeBootstrapFailed,
			"failed to load server identity", false, err)
	}
	return id, nil
}

// ensureInterfaceConfig writes the bare server config only when none exists.
// An existing config may already carry peer sections.
func (b *Bootstrapper) ensureInterfaceConfig(id syncer.ServerIdentity) error {
	path := b.cfg.InterfaceConfigPath()
	if _, err := os.Stat(path); err == nil {
		b.logger.Info("interface config already present", "path", path)
		return nil
	}

	if err := os.MkdirAll(b.cfg.ConfigDir, 0o700); err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
			"failed to create config directory", false, err).WithMetadata("dir", b.cfg.ConfigDir)
	}

	if err := wgconf.WriteFile(path, syncer.BuildInterfaceDevice(nil, id)); err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
			"failed to write interface config", false, err)
	}
	return nil
}

func (b *Bootstrapper) activateInterface(ctx context.Context) error {
	cmd := fmt.Sprintf("systemctl enable --now wg-quick@%s", b.cfg.InterfaceName)
	if out, err := b.runner.Run(ctx, cmd); err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
			"failed to activate interface service", false, err).
			WithMetadata("interface", b.cfg.InterfaceName).
			WithMetadata("output", string(out))
	}
	return nil
}

// selfInstall copies the running binary to the configured path so the tool
// is on PATH for subsequent invocations.
func (b *Bootstrapper) selfInstall() error {
	self, err := os.Executable()
	if err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
			"failed to locate running binary", false, err)
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}
	if self == b.cfg.InstallPath {
		return nil
	}

	src, err := os.Open(self)
	if err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
			"failed to open running binary", false, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(b.cfg.InstallPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
			"failed to create installed binary", false, err).WithMetadata("path", b.cfg.InstallPath)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return sharedErrors.NewSystemError(sharedErrors.ErrCodeBootstrapFailed,
			"failed to copy binary", false, err).WithMetadata("path", b.cfg.InstallPath)
	}

	b.logger.Info("installed binary", "path", b.cfg.InstallPath)
	return nil
}
