package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skald/cli/style"
)

var rollbackDetach bool

var rollbackCmd = &cobra.Command{
	Use:   "rollback <service> <stage> [timestamp]",
	Short: "Restore the stack to a stored deployment",
	Long: `Restore the stack to the template stored with a previous deployment.
Without a timestamp the stored deployments are listed instead.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := target(args)
		if len(args) == 2 {
			ds, err := client.ListDeployments(t)
			if err != nil {
				return fmt.Errorf("list deployments: %w", err)
			}
			if err := printDeployments(ds); err != nil {
				return err
			}
			fmt.Println()
			fmt.Println(style.DimText.Render("run skald rollback " + t.Service + " " + t.Stage + " <timestamp>"))
			return nil
		}

		timestamp := args[2]
		fmt.Println(style.Title.Render(fmt.Sprintf("rolling back %s/%s to %s", t.Service, t.Stage, timestamp)))
		started, err := client.Rollback(t, timestamp)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		fmt.Printf("  saga: %s\n\n", style.DimText.Render(started.SagaID))
		if rollbackDetach {
			return nil
		}
		return streamSagaEvents(started.SagaID)
	},
}

func init() {
	rollbackCmd.Flags().BoolVarP(&rollbackDetach, "detach", "d", false, "return once the rollback is accepted")
	rootCmd.AddCommand(rollbackCmd)
}
