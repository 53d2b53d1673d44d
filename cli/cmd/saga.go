package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skald/api/saga"
	"skald/cli/style"
)

var (
	sagaTarget string
	sagaLimit  int
)

var sagaCmd = &cobra.Command{
	Use:   "saga [saga-id]",
	Short: "View the saga event log",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			events []saga.Event
			err    error
		)
		if len(args) > 0 {
			events, err = client.GetSagaEvents(args[0])
		} else {
			events, err = client.ListRecentSaga(sagaTarget, sagaLimit)
		}
		if err != nil {
			return fmt.Errorf("fetch saga events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println(style.DimText.Render("no events"))
			return nil
		}
		fmt.Print((&saga.PlainFormatter{}).Format(events))
		return nil
	},
}

func init() {
	sagaCmd.Flags().StringVar(&sagaTarget, "target", "", "filter by service/stage/region")
	sagaCmd.Flags().IntVar(&sagaLimit, "limit", 30, "number of events")
	rootCmd.AddCommand(sagaCmd)
}
