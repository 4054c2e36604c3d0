package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ferry/api/model"
	"ferry/cli/style"
)

var sourceReq model.SourceRequest

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Inspect a source server",
}

var sourceListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List app instances on the source server",
	Aliases: []string{"ls"},
	RunE:    runSourceList,
}

var sourceCatCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file from the source server",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceCat,
}

var preflightReq model.PreflightRequest

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check both servers before a deploy",
	RunE:  runPreflight,
}

func init() {
	pf := sourceCmd.PersistentFlags()
	pf.StringVar(&sourceReq.IP, "ip", "", "source server IPv4 address")
	pf.StringVar(&sourceReq.Username, "user", "", "source server SSH user")
	pf.IntVar(&sourceReq.Port, "port", 22, "source server SSH port")
	sourceCmd.MarkPersistentFlagRequired("ip")
	sourceCmd.MarkPersistentFlagRequired("user")
	sourceCmd.AddCommand(sourceListCmd, sourceCatCmd)

	f := preflightCmd.Flags()
	f.StringVar(&preflightReq.Source.IP, "source-ip", "", "source server IPv4 address")
	f.StringVar(&preflightReq.Source.Username, "source-user", "", "source server SSH user")
	f.IntVar(&preflightReq.Source.Port, "source-port", 22, "source server SSH port")
	f.StringVar(&preflightReq.Target.IP, "target-ip", "", "target server IPv4 address")
	f.StringVar(&preflightReq.Target.Username, "target-user", "root", "target server SSH user")
	f.IntVar(&preflightReq.Target.Port, "target-port", 22, "target server SSH port")
	f.StringVar(&preflightReq.Target.Password, "target-password", os.Getenv("FERRY_TARGET_PASSWORD"), "target server SSH password")
	preflightCmd.MarkFlagRequired("source-ip")
	preflightCmd.MarkFlagRequired("source-user")
	preflightCmd.MarkFlagRequired("target-ip")

	rootCmd.AddCommand(sourceCmd, preflightCmd)
}

func runSourceList(cmd *cobra.Command, args []string) error {
	instances, err := client.ListSourceInstances(sourceReq)
	if err != nil {
		return fmt.Errorf("list instances on %s: %w", sourceReq.IP, err)
	}

	fmt.Println(style.Banner.Render("⛴ "+sourceReq.IP) + style.Subtitle.Render(fmt.Sprintf("  %d instance(s)", len(instances))))
	if len(instances) == 0 {
		fmt.Println(style.DimText.Render("  No instances found."))
		return nil
	}
	fmt.Println(style.TableHeader.Render(fmt.Sprintf("  %-24s %s", "NAME", "PATH")))
	for _, in := range instances {
		fmt.Printf("  %-24s %s\n", style.Bold.Render(in.Name), style.DimText.Render(in.Path))
	}
	return nil
}

func runSourceCat(cmd *cobra.Command, args []string) error {
	resp, err := client.ReadSourceFile(model.FileRequest{SourceRequest: sourceReq, FilePath: args[0]})
	if err != nil {
		return err
	}
	fmt.Print(resp.Content)
	return nil
}

func runPreflight(cmd *cobra.Command, args []string) error {
	rep, err := client.Preflight(preflightReq)
	if err != nil {
		return err
	}

	fmt.Println(style.Banner.Render("⛴ PREFLIGHT"))

	src := rep.Source
	fmt.Printf("  %s  %s\n", connDot(src.Connected), style.Bold.Render("Source "+preflightReq.Source.IP))
	if src.Error != "" {
		fmt.Println(style.LogLine.Render(src.Error))
	}
	fmt.Printf("     %s %d\n", style.Key.Render("Instances"), len(src.Instances))
	printMulti("Disk", src.DiskSpace)
	printMulti("Memory", src.Memory)
	fmt.Println()

	tgt := rep.Target
	fmt.Printf("  %s  %s\n", connDot(tgt.SSHConnection), style.Bold.Render("Target "+preflightReq.Target.IP))
	if tgt.Error != "" {
		fmt.Println(style.LogLine.Render(tgt.Error))
	}
	root := style.Unhealthy.Render("no")
	if tgt.RootAccess {
		root = style.Healthy.Render("yes")
	}
	fmt.Printf("     %s %s\n", style.Key.Render("Root"), root)
	printMulti("System", tgt.SystemInfo)
	printMulti("Disk", tgt.DiskSpace)
	printMulti("Memory", tgt.Memory)
	printMulti("Ports", tgt.ListeningPorts)
	printMulti("Node", tgt.NodeProcesses)

	if rep.Ready {
		fmt.Println(style.SuccessBox.Render("Ready to deploy"))
		return nil
	}
	fmt.Println(style.ErrorBox.Render("Not ready"))
	return fmt.Errorf("preflight failed")
}

func connDot(ok bool) string {
	if ok {
		return style.DotHealthy
	}
	return style.DotUnhealthy
}

func printMulti(key, text string) {
	if text == "" {
		return
	}
	fmt.Printf("     %s\n", style.Key.Render(key))
	fmt.Println(style.LogLine.Render(text))
}
