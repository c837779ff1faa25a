package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arvelin/wg-provision/internal/provision/bootstrap"
	"github.com/arvelin/wg-provision/pkg/crypto"
)

// installCmd bootstraps a fresh server. Unlike the peer operations, any
// failure here is fatal: there is no useful state to fall back on yet.
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and configure the WireGuard server",
	Long: `Bootstrap a fresh server: install the WireGuard tools through the host
package manager, enable IP forwarding, generate the server keypair, write
the base interface config, activate the interface, and install this binary
to its fixed path.

Must run as root. Rerunning is safe: the server key and any existing peer
sections are preserved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() != 0 {
			return fmt.Errorf("install must run as root")
		}

		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.cleanup()

		installer := bootstrap.NewSystemInstaller(
			time.Duration(app.cfg.InstallTimeoutSec)*time.Second, app.runner, app.log)
		boot := bootstrap.New(app.cfg, app.keys, crypto.Provider{}, installer,
			app.runner, app.bus, app.log)

		if err := boot.Run(cmd.Context()); err != nil {
			return err
		}

		fmt.Printf("WireGuard server installed on interface %s\n", app.cfg.InterfaceName)
		fmt.Printf("Add your first peer with: %s add\n", app.cfg.InstallPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
}
