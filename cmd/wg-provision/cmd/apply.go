package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// applyCmd retries the interface reload on its own, for recovering after a
// mutation that committed but failed to activate.
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the on-disk configuration to the running interface",
	Long: `Reload the running WireGuard interface from the on-disk config without
touching the registry or any artifact. Use this after an add or remove
reported that the reload step failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.cleanup()

		if err := app.svc.Apply(cmd.Context()); err != nil {
			return err
		}

		fmt.Printf("Interface %s reloaded\n", app.cfg.InterfaceName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
