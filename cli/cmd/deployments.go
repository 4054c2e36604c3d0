package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"ferry/cli/style"
)

var (
	historyDomain string
	historyStatus string
	historyLimit  int
)

var deploymentsCmd = &cobra.Command{
	Use:     "deployments",
	Short:   "Show deployment history",
	Aliases: []string{"history"},
	RunE:    runDeployments,
}

var deploymentLogCmd = &cobra.Command{
	Use:   "log <id>",
	Short: "Page through the stored log of a deployment",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeploymentLog,
}

func init() {
	f := deploymentsCmd.Flags()
	f.StringVar(&historyDomain, "domain", "", "only deployments of this domain")
	f.StringVar(&historyStatus, "status", "", "only running, succeeded or failed")
	f.IntVarP(&historyLimit, "limit", "n", 20, "number of deployments to show")
	deploymentsCmd.AddCommand(deploymentLogCmd)
	rootCmd.AddCommand(deploymentsCmd)
}

func runDeployments(cmd *cobra.Command, args []string) error {
	page, err := client.ListDeployments(historyDomain, historyStatus, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch deployments: %w", err)
	}

	fmt.Println(style.Banner.Render("⛴ DEPLOYMENTS") + style.Subtitle.Render(fmt.Sprintf("  %d of %d", len(page.Deployments), page.Total)))
	if len(page.Deployments) == 0 {
		fmt.Println(style.DimText.Render("  Nothing deployed yet."))
		return nil
	}

	fmt.Println(style.TableHeader.Render(fmt.Sprintf("  %-36s  %-28s %-15s %-10s %s", "ID", "DOMAIN", "TARGET", "STATUS", "STARTED")))
	for _, d := range page.Deployments {
		status := style.DeployStatus(string(d.Status)) + strings.Repeat(" ", max(0, 10-len(d.Status)))
		fmt.Printf("  %-36s  %-28s %-15s %s %s\n",
			d.ID,
			truncate(d.Domain, 28),
			d.TargetIP,
			status,
			style.DimText.Render(timeAgo(d.StartedAt)),
		)
		if d.Status == "failed" && d.Message != "" {
			fmt.Println(style.LogLine.Render(truncate(d.Message, 100)))
		}
	}
	return nil
}

func runDeploymentLog(cmd *cobra.Command, args []string) error {
	text, err := client.DeploymentLog(args[0])
	if err != nil {
		return err
	}
	p := tea.NewProgram(logPager{id: args[0], content: text}, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

type logPager struct {
	id       string
	content  string
	viewport viewport.Model
	ready    bool
}

func (m logPager) Init() tea.Cmd { return nil }

func (m logPager) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		headerHeight := 3
		m.viewport = viewport.New(msg.Width, msg.Height-headerHeight)
		m.viewport.SetContent(m.content)
		m.ready = true
		return m, nil
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m logPager) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		style.Banner.Render("⛴ LOG"),
		"  ",
		style.Bold.Render(m.id),
		"  ",
		style.DimText.Render("q to quit • ↑↓ to scroll"),
	)
	if !m.ready {
		return header + "\n\n" + style.DimText.Render("Loading...")
	}
	return header + "\n" + m.viewport.View()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
