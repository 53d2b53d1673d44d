package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skald/cli/style"
)

var validateCmd = &cobra.Command{
	Use:   "validate <service> <stage>",
	Short: "Run preflight checks on a packaged service",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := client.Validate(target(args))
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		for _, f := range r.Findings {
			var mark string
			switch f.Severity {
			case "error":
				mark = style.StepFailed.Render("✗")
			case "warning":
				mark = style.Warning.Render("!")
			default:
				mark = style.DimText.Render("·")
			}
			fmt.Printf("  %s %s %s\n", mark, f.Message, style.DimText.Render(f.Check))
		}
		if !r.Valid() {
			fmt.Println(style.ErrorBox.Render(fmt.Sprintf("%d errors, %d warnings", r.Errors, r.Warnings)))
			return fmt.Errorf("%s is not deployable", r.Service)
		}
		fmt.Println(style.SuccessBox.Render(fmt.Sprintf("%s is deployable (%d warnings)", r.Service, r.Warnings)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
