package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"ferry/cli/api"
)

var (
	apiURL   string
	apiToken string
	client   *api.Client
)

var rootCmd = &cobra.Command{
	Use:   "ferry",
	Short: "Move app instances between servers",
	Long: `Ferry copies a running app instance from a source server to a fresh target,
brings it up behind PM2 and Nginx with a certificate, and keeps an eye on it afterwards.

Deploy, inspect source hosts, manage saved servers and monitored URLs, all from the terminal.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		client = api.New(apiURL, apiToken)
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultURL := os.Getenv("FERRY_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8800"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultURL, "Ferry API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("FERRY_TOKEN"), "API token or JWT")
}
