package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"skald/cli/api"
	"skald/cli/style"
)

var invocationQuery api.InvocationQuery

var invocationsCmd = &cobra.Command{
	Use:   "invocations",
	Short: "List recent deploy, rollback and cleanup runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		invs, err := client.ListInvocations(invocationQuery)
		if err != nil {
			return fmt.Errorf("list invocations: %w", err)
		}
		if len(invs) == 0 {
			fmt.Println(style.DimText.Render("no invocations"))
			return nil
		}
		rows := make([][]string, 0, len(invs))
		for _, inv := range invs {
			rows = append(rows, []string{
				style.InvocationDot(string(inv.Status)) + " " + string(inv.Status),
				string(inv.Kind),
				inv.Service + "/" + inv.Stage,
				inv.Timestamp,
				humanize.Time(inv.StartedAt),
				inv.Error,
			})
		}
		out, err := style.Table([]string{"Status", "Kind", "Target", "Deployment", "Started", "Error"}, rows)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	invocationsCmd.Flags().StringVar(&invocationQuery.Service, "service", "", "filter by service")
	invocationsCmd.Flags().StringVar(&invocationQuery.Stage, "stage", "", "filter by stage")
	invocationsCmd.Flags().StringVar(&invocationQuery.Kind, "kind", "", "deploy, rollback or cleanup")
	invocationsCmd.Flags().IntVar(&invocationQuery.Limit, "limit", 20, "number of invocations")
	rootCmd.AddCommand(invocationsCmd)
}
