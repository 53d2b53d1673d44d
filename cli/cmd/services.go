package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skald/cli/style"
)

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List services the server can deploy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ms, err := client.ListServices()
		if err != nil {
			return fmt.Errorf("list services: %w", err)
		}
		if len(ms) == 0 {
			fmt.Println(style.DimText.Render("no services found"))
			return nil
		}
		rows := make([][]string, 0, len(ms))
		for _, m := range ms {
			rows = append(rows, []string{m.Service, fmt.Sprint(len(m.Artifacts)), fmt.Sprint(m.Retention())})
		}
		out, err := style.Table([]string{"Service", "Artifacts", "Retain"}, rows)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(servicesCmd)
}
