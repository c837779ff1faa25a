package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// removeCmd deletes a peer and all of its derived artifacts.
var removeCmd = &cobra.Command{
	Use:   "remove <username>",
	Short: "Remove a VPN peer",
	Long: `Remove a peer: delete its registry record, strip its section from the
interface config, delete its client profile and key material, and reload
the interface. The freed address becomes available to future peers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.cleanup()

		username := args[0]
		if err := app.svc.RemovePeer(cmd.Context(), username); err != nil {
			return err
		}

		fmt.Printf("Removed peer %s\n", username)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
