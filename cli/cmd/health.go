package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ferry/cli/style"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the API and its backing services",
	Aliases: []string{"doctor", "h"},
	RunE:    runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	h, err := client.Health()
	if err != nil {
		fmt.Println(style.ErrorBox.Render("Cannot reach Ferry API at " + apiURL))
		return err
	}

	fmt.Println(style.Banner.Render("⛴ FERRY HEALTH"))

	names := map[string]string{
		"postgres": "PostgreSQL",
		"s3":       "Archive store",
	}

	allUp := true
	for _, s := range h.Services {
		name := names[s.Name]
		if name == "" {
			name = s.Name
		}

		var label string
		switch s.Status {
		case "up":
			label = style.Healthy.Render("up")
		case "down":
			label = style.Unhealthy.Render("down")
			allUp = false
		default:
			label = style.Warning.Render(s.Status)
		}

		line := fmt.Sprintf("  %s  %-16s %s", style.ServiceDot(s.Status), style.Bold.Render(name), label)
		if s.Details != "" {
			line += "  " + style.DimText.Render(s.Details)
		}
		fmt.Println(line)
	}

	if stats, err := client.Stats(time.Time{}); err == nil {
		fmt.Println()
		fmt.Printf("  %s %d total  %s  %s  %s\n",
			style.Key.Render("Last 24h"),
			stats.Total,
			style.Healthy.Render(fmt.Sprintf("%d ok", stats.Succeeded)),
			style.Unhealthy.Render(fmt.Sprintf("%d failed", stats.Failed)),
			style.StepRunning.Render(fmt.Sprintf("%d running", stats.Running)),
		)
	}

	if allUp {
		fmt.Println(style.SuccessBox.Render("All services healthy"))
	} else {
		fmt.Println(style.ErrorBox.Render("Some services are down"))
	}
	return nil
}
