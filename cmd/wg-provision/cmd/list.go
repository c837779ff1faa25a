package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// listCmd prints the registered peers as a table.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered VPN peers",
	Long: `List every registered peer with its tunnel address, usage limits, and the
location of its client profile. Listing never blocks on running mutations.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.cleanup()

		infos, err := app.svc.ListPeers(cmd.Context())
		if err != nil {
			return err
		}

		if len(infos) == 0 {
			fmt.Println("No peers registered")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tADDRESS\tDATA LIMIT\tMONTHLY LIMIT\tCREATED\tPROFILE")
		for _, info := range infos {
			created := "-"
			if !info.CreatedAt.IsZero() {
				created = info.CreatedAt.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				info.Username, info.Address,
				limitLabel(info.DataLimitGB), limitLabel(info.MonthlyTrafficLimitGB),
				created, info.ProfilePath)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
