package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"skald/cli/style"
)

var currentCmd = &cobra.Command{
	Use:   "current <service> <stage>",
	Short: "Show the deployment a stage currently runs",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rel, err := client.Current(target(args))
		if err != nil {
			return fmt.Errorf("current release: %w", err)
		}
		fmt.Printf("  %s %s\n", style.Key.Render("Timestamp"), style.Val.Render(rel.Timestamp))
		fmt.Printf("  %s %s\n", style.Key.Render("Deployed"), style.Val.Render(deployedAt(rel.Timestamp)))
		fmt.Printf("  %s %s\n", style.Key.Render("Via"), style.Val.Render(rel.Kind))
		fmt.Printf("  %s %s\n", style.Key.Render("Prefix"), style.DimText.Render(rel.Prefix))
		fmt.Printf("  %s %s\n", style.Key.Render("Saga"), style.DimText.Render(rel.SagaID))
		fmt.Printf("  %s %s\n", style.Key.Render("Updated"), style.Val.Render(humanize.Time(rel.UpdatedAt)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(currentCmd)
}
