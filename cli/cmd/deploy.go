package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skald/cli/style"
)

var deployDetach bool

var deployCmd = &cobra.Command{
	Use:   "deploy <service> <stage>",
	Short: "Upload the packaged service and update its stack",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := target(args)
		fmt.Println(style.Title.Render(fmt.Sprintf("deploying %s to %s", t.Service, t.Stage)))

		started, err := client.Deploy(t)
		if err != nil {
			return fmt.Errorf("deploy failed: %w", err)
		}
		fmt.Printf("  saga: %s\n\n", style.DimText.Render(started.SagaID))
		if deployDetach {
			return nil
		}
		return streamSagaEvents(started.SagaID)
	},
}

func init() {
	deployCmd.Flags().BoolVarP(&deployDetach, "detach", "d", false, "return once the deploy is accepted")
	rootCmd.AddCommand(deployCmd)
}
