package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"skald/api/model"
	"skald/cli/style"
)

var deploymentsCmd = &cobra.Command{
	Use:     "deployments <service> <stage>",
	Aliases: []string{"ls"},
	Short:   "List stored deployments, oldest first",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := client.ListDeployments(target(args))
		if err != nil {
			return fmt.Errorf("list deployments: %w", err)
		}
		return printDeployments(ds)
	},
}

func printDeployments(ds []model.Deployment) error {
	if len(ds) == 0 {
		fmt.Println(style.DimText.Render("no deployments found"))
		return nil
	}
	rows := make([][]string, 0, len(ds))
	for _, d := range ds {
		rows = append(rows, []string{d.Timestamp, deployedAt(d.Timestamp), strings.Join(d.ArtifactNames, ", ")})
	}
	out, err := style.Table([]string{"Timestamp", "Deployed", "Artifacts"}, rows)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// deployedAt renders a millisecond timestamp as a date and relative age.
func deployedAt(ts string) string {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ts
	}
	t := time.UnixMilli(ms)
	return t.Format("2006-01-02 15:04:05") + " (" + humanize.Time(t) + ")"
}

func init() {
	rootCmd.AddCommand(deploymentsCmd)
}
