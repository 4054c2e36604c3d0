package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ferry/api/model"
	"ferry/cli/style"
)

var instanceInput model.InstanceInput

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Short:   "Show monitored URLs and their latest status",
	Aliases: []string{"mon", "status"},
	RunE:    runInstances,
}

var instanceAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Start monitoring a URL",
	Args:  cobra.ExactArgs(2),
	RunE:  runInstanceAdd,
}

var instanceRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Short:   "Stop monitoring an instance",
	Aliases: []string{"remove"},
	Args:    cobra.ExactArgs(1),
	RunE:    runInstanceRemove,
}

var instanceProbeCmd = &cobra.Command{
	Use:   "probe <id|url>",
	Short: "Check an instance now, or any URL without recording it",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstanceProbe,
}

func init() {
	instanceAddCmd.Flags().IntVar(&instanceInput.Interval, "interval", 60, "seconds between checks")
	instancesCmd.AddCommand(instanceAddCmd, instanceRemoveCmd, instanceProbeCmd)
	rootCmd.AddCommand(instancesCmd)
}

func runInstances(cmd *cobra.Command, args []string) error {
	list, err := client.ListInstances()
	if err != nil {
		return fmt.Errorf("failed to fetch instances: %w", err)
	}

	fmt.Println(style.Banner.Render("⛴ MONITORING") + style.Subtitle.Render(fmt.Sprintf("  %d instance(s)", len(list))))
	if len(list) == 0 {
		fmt.Println(style.DimText.Render("  Nothing monitored. Add one with `ferry instances add <name> <url>`."))
		return nil
	}

	fmt.Println(style.TableHeader.Render(fmt.Sprintf("  %-2s  %-36s  %-20s %-40s %-6s %s", "", "ID", "NAME", "URL", "CODE", "HISTORY")))
	for _, in := range list {
		code := "-"
		if in.StatusCode > 0 {
			code = fmt.Sprint(in.StatusCode)
		}
		fmt.Printf("  %s  %-36s  %-20s %-40s %-6s %s\n",
			style.ColorDot(in.Color),
			in.ID,
			truncate(in.Name, 20),
			truncate(in.URL, 40),
			code,
			historyBar(in.StatusHistory),
		)
	}
	return nil
}

// historyBar renders recent checks oldest first.
func historyBar(h []model.StatusEntry) string {
	var b strings.Builder
	for _, e := range h {
		b.WriteString(style.ColorDot(e.Color))
	}
	return b.String()
}

func runInstanceAdd(cmd *cobra.Command, args []string) error {
	in := instanceInput
	in.Name, in.URL = args[0], args[1]
	inst, err := client.CreateInstance(in)
	if err != nil {
		return err
	}
	fmt.Println(style.SuccessBox.Render(fmt.Sprintf("✓ Monitoring %s every %ds (%s)", inst.URL, inst.Interval, inst.ID)))
	return nil
}

func runInstanceRemove(cmd *cobra.Command, args []string) error {
	if err := client.DeleteInstance(args[0]); err != nil {
		return err
	}
	fmt.Println(style.DimText.Render("Removed " + args[0]))
	return nil
}

func runInstanceProbe(cmd *cobra.Command, args []string) error {
	id, target := args[0], ""
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		id, target = "", args[0]
	} else {
		list, err := client.ListInstances()
		if err != nil {
			return err
		}
		for _, in := range list {
			if in.ID == id {
				target = in.URL
			}
		}
		if target == "" {
			return fmt.Errorf("no instance %s", id)
		}
	}

	res, err := client.ProbeInstance(id, target)
	if err != nil {
		return err
	}
	fmt.Printf("  %s  %s  %s %s\n",
		style.ColorDot(res.Color),
		style.Bold.Render(target),
		style.Val.Render(fmt.Sprint(res.StatusCode)),
		style.DimText.Render(res.StatusText),
	)
	if len(res.StatusHistory) > 0 {
		fmt.Printf("     %s %s\n", style.Key.Render("History"), historyBar(res.StatusHistory))
	}
	return nil
}
