// Package cmd implements the wg-provision command dispatch table.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arvelin/wg-provision/internal/provision"
	"github.com/arvelin/wg-provision/internal/provision/alloc"
	"github.com/arvelin/wg-provision/internal/provision/config"
	"github.com/arvelin/wg-provision/internal/provision/events"
	"github.com/arvelin/wg-provision/internal/provision/keystore"
	"github.com/arvelin/wg-provision/internal/provision/lock"
	"github.com/arvelin/wg-provision/internal/provision/registry"
	"github.com/arvelin/wg-provision/internal/provision/reload"
	"github.com/arvelin/wg-provision/internal/provision/syncer"
	sharedErrors "github.com/arvelin/wg-provision/internal/shared/errors"
	"github.com/arvelin/wg-provision/pkg/crypto"
	"github.com/arvelin/wg-provision/pkg/logger"
)

const version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:     "wg-provision",
	Short:   "WireGuard peer provisioning and configuration synchronization",
	Version: version,
	Long: `wg-provision manages WireGuard VPN peers on a single server: it allocates
addresses, keeps a durable peer registry, regenerates the interface config
and per-peer client profiles, and reloads the running interface safely.

Run 'wg-provision install' once on a fresh server, then add and remove
peers with 'wg-provision add' and 'wg-provision remove'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the dispatch table. Operation failures are reported to the
// operator with their stable error code; only the exit status signals them
// to scripts.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if sharedErrors.IsDomainError(err) {
			fmt.Fprintf(os.Stderr, "Error (%s): %v\n", sharedErrors.GetErrorCode(err), err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config file (default: search /etc/wg-provision, $HOME, .)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// appContext bundles the wired application for a command invocation.
type appContext struct {
	cfg     *config.Config
	log     *logger.Logger
	svc     *provision.Service
	keys    *keystore.Store
	bus     *events.Bus
	runner  *reload.ShellRunner
	cleanup func()
}

// loadApp loads configuration and wires the full service graph.
func loadApp(cmd *cobra.Command) (*appContext, error) {
	var cfg *config.Config
	var err error
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.LoadWithPath(path)
	} else {
		cfg, err = config.NewLoader().Load()
	}
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}

	log := logger.New(logger.Config{
		Level:     logger.Level(cfg.LogLevel),
		Format:    logger.Format(cfg.LogFormat),
		Component: "wg-provision",
	})

	reg, err := registry.NewFileRegistry(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}

	keys, err := keystore.New(cfg.KeyDir)
	if err != nil {
		return nil, err
	}

	sync, err := syncer.New(cfg.InterfaceConfigPath(), cfg.ProfileDir, keys, log)
	if err != nil {
		return nil, err
	}

	subnet, err := cfg.Subnet()
	if err != nil {
		return nil, err
	}
	allocator, err := alloc.New(subnet, cfg.ServerHostOffset)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(log)
	events.NewAuditLogger(cfg.AuditLogPath, log).Attach(bus)

	runner := reload.NewShellRunner()
	reloader := reload.New(cfg.InterfaceName, cfg.InterfaceConfigPath(),
		time.Duration(cfg.ReloadTimeoutSec)*time.Second, runner, log)

	svc := provision.NewService(cfg, reg, keys, sync, allocator,
		crypto.Provider{}, reloader, lock.New(cfg.LockPath), bus, log)

	return &appContext{
		cfg:     cfg,
		log:     log,
		svc:     svc,
		keys:    keys,
		bus:     bus,
		runner:  runner,
		cleanup: func() { bus.Close() },
	}, nil
}
