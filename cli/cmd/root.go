package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"skald/cli/api"
)

var (
	apiURL   string
	apiToken string
	region   string
	client   *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "skald",
	Short: "Versioned deployments with rollback and retention",
	Long: `Skald records every deployment of a service stage in object storage,
drives the stack update to completion, and can roll a stage back to any
deployment it still keeps.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = api.New(apiURL, apiToken)
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("SKALD_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8900"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "Skald API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("SKALD_API_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "region (defaults to the server's)")
}

func target(args []string) api.Target {
	return api.Target{Service: args[0], Stage: args[1], Region: region}
}
