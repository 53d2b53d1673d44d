package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"skald/cli/style"
)

var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print client and server versions",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(style.Title.Render("skald"))
		fmt.Printf("  %s %s\n", style.Key.Render("Client"), style.Val.Render(Version))
		server, err := client.Version()
		if err != nil {
			server = style.DimText.Render("unreachable")
		}
		fmt.Printf("  %s %s\n", style.Key.Render("Server"), style.Val.Render(server))
		fmt.Printf("  %s %s\n", style.Key.Render("API"), style.Val.Render(apiURL))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
