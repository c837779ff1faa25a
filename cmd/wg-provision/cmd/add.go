package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arvelin/wg-provision/internal/provision"
)

// addCmd provisions a new peer and prints where its client profile landed.
var addCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "Add a new VPN peer",
	Long: `Add a new peer: allocate the lowest free address, record the peer in the
registry, write its client profile, and reload the interface.

When the username is omitted the command prompts for it and for the two
optional usage limits. An empty limit means unlimited.

Examples:
  # Fully scripted
  wg-provision add alice --data-limit 50 --monthly-limit 10.5

  # Interactive
  wg-provision add`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer app.cleanup()

		req, err := buildAddRequest(cmd, args)
		if err != nil {
			return err
		}

		info, err := app.svc.AddPeer(cmd.Context(), req)
		if err != nil {
			return err
		}

		fmt.Printf("Added peer %s\n", info.Username)
		fmt.Printf("  Address:     %s\n", info.Address)
		fmt.Printf("  Public key:  %s\n", info.PublicKey)
		fmt.Printf("  Data limit:  %s\n", limitLabel(info.DataLimitGB))
		fmt.Printf("  Monthly:     %s\n", limitLabel(info.MonthlyTrafficLimitGB))
		fmt.Printf("  Profile:     %s\n", info.ProfilePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().Float64("data-limit", 0, "total data limit in GB (omit for unlimited)")
	addCmd.Flags().Float64("monthly-limit", 0, "monthly traffic limit in GB (omit for unlimited)")
}

// buildAddRequest collects the peer fields from args and flags, prompting
// interactively when the username was not given on the command line.
func buildAddRequest(cmd *cobra.Command, args []string) (provision.AddPeerRequest, error) {
	req := provision.AddPeerRequest{}

	if cmd.Flags().Changed("data-limit") {
		v, _ := cmd.Flags().GetFloat64("data-limit")
		req.DataLimitGB = &v
	}
	if cmd.Flags().Changed("monthly-limit") {
		v, _ := cmd.Flags().GetFloat64("monthly-limit")
		req.MonthlyTrafficLimitGB = &v
	}

	if len(args) == 1 {
		req.Username = args[0]
		return req, nil
	}

	reader := bufio.NewReader(os.Stdin)

	username, err := promptLine(reader, "Username: ")
	if err != nil {
		return req, err
	}
	req.Username = username

	if req.DataLimitGB == nil {
		req.DataLimitGB, err = promptLimit(reader, "Data limit in GB (empty for unlimited): ")
		if err != nil {
			return req, err
		}
	}
	if req.MonthlyTrafficLimitGB == nil {
		req.MonthlyTrafficLimitGB, err = promptLimit(reader, "Monthly traffic limit in GB (empty for unlimited): ")
		if err != nil {
			return req, err
		}
	}
	return req, nil
}

func promptLine(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptLimit(reader *bufio.Reader, prompt string) (*float64, error) {
	raw, err := promptLine(reader, prompt)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid limit %q: %w", raw, err)
	}
	return &v, nil
}

func limitLabel(limit *float64) string {
	if limit == nil {
		return "unlimited"
	}
	return strconv.FormatFloat(*limit, 'f', -1, 64) + " GB"
}
