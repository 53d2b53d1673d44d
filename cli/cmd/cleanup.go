package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skald/cli/style"
)

var cleanupKeep int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <service> <stage>",
	Short: "Delete stored deployments beyond the retention count",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var keep *int
		if cmd.Flags().Changed("keep") {
			keep = &cleanupKeep
		}
		res, err := client.Cleanup(target(args), keep)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}

		for _, k := range res.Removed {
			fmt.Printf("  %s %s\n", style.StepDone.Render("✓"), style.DimText.Render(k))
		}
		for _, w := range res.Warnings {
			fmt.Printf("  %s %s\n", style.Warning.Render("!"), w)
		}
		fmt.Println(style.SuccessBox.Render(fmt.Sprintf("removed %d objects", len(res.Removed))))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupKeep, "keep", 0, "deployments to keep (defaults to the service's retention)")
	rootCmd.AddCommand(cleanupCmd)
}
