package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// reconcileCmd rebuilds every derived artifact from the registry.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild all configuration artifacts from the registry",
	Long: `Regenerate the interface config and every client profile from the peer
registry, delete orphaned profiles and key material, regenerate missing
keypairs, and reload the interface. Safe to run at any time: the registry
is the single source of truth and reconciliation is idempotent.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.cleanup()

		report, err := app.svc.Reconcile(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Reconciled %d peers", report.PeerCount)
		if report.Regenerated > 0 {
			fmt.Printf(" (%d keypairs regenerated)", report.Regenerated)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
