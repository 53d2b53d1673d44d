package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skald/cli/style"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server dependencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := client.Health()
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}

		status := style.Healthy.Render(h.Status)
		if h.Status != "healthy" {
			status = style.Warning.Render(h.Status)
		}
		fmt.Printf("%s %s\n\n", style.Bold.Render("skald"), status)
		for _, s := range h.Services {
			line := fmt.Sprintf("  %s %s", style.ServiceDot(s.Status), s.Name)
			if s.Details != "" {
				line += " " + style.DimText.Render(s.Details)
			}
			fmt.Println(line)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
