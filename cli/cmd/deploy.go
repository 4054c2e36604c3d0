package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ferry/api/model"
	"ferry/cli/api"
	"ferry/cli/style"
)

var (
	deployReq   model.DeploymentRequest
	deployFile  string
	deployPlain bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Copy an instance from a source server and bring it up on a target",
	Example: `  ferry deploy --source-ip 10.0.0.5 --source-user deploy --source-path /srv/apps/shop \
    --target-ip 10.0.0.9 --install-path /var/www --domain shop.example.com --email ops@example.com`,
	RunE: runDeploy,
}

func init() {
	f := deployCmd.Flags()
	f.StringVar(&deployReq.SourceServer.IP, "source-ip", "", "source server IPv4 address")
	f.StringVar(&deployReq.SourceServer.Username, "source-user", "", "source server SSH user")
	f.IntVar(&deployReq.SourceServer.Port, "source-port", 22, "source server SSH port")
	f.StringVar(&deployReq.SourceInstancePath, "source-path", "", "instance directory on the source server")
	f.StringVar(&deployReq.TargetIP, "target-ip", "", "target server IPv4 address")
	f.StringVar(&deployReq.TargetUser, "target-user", "root", "target server SSH user")
	f.IntVar(&deployReq.TargetPort, "target-port", 22, "target server SSH port")
	f.StringVar(&deployReq.TargetPassword, "target-password", os.Getenv("FERRY_TARGET_PASSWORD"), "target server SSH password")
	f.StringVar(&deployReq.InstallPath, "install-path", "", "parent directory for the install on the target")
	f.StringVar(&deployReq.Domain, "domain", "", "domain to serve the instance on")
	f.StringVar(&deployReq.Email, "email", "", "contact email for the certificate")
	f.StringVar(&deployReq.DatabaseType, "database", "sqlite", "database type: sqlite, postgres or mysql")
	f.StringVarP(&deployFile, "file", "f", "", "read the request from a JSON file; flags override it")
	f.BoolVar(&deployPlain, "plain", false, "print the log when finished instead of the live view")
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	req := deployReq
	if deployFile != "" {
		data, err := os.ReadFile(deployFile)
		if err != nil {
			return err
		}
		var fromFile model.DeploymentRequest
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return fmt.Errorf("parse %s: %w", deployFile, err)
		}
		fromFile.Normalize()
		req = mergeRequest(fromFile, req, cmd.Flags().Changed)
	}
	if missing := req.Missing(); len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	if deployPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return runPlainDeploy(req)
	}

	p := tea.NewProgram(newDeployModel(req))
	finalModel, err := p.Run()
	if err != nil {
		return err
	}
	if dm := finalModel.(deployModel); dm.failed {
		return errors.New("deploy failed")
	}
	return nil
}

// mergeRequest lets explicitly set flags override values from a file.
func mergeRequest(base, flags model.DeploymentRequest, changed func(string) bool) model.DeploymentRequest {
	set := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	set("source-ip", &base.SourceServer.IP, flags.SourceServer.IP)
	set("source-user", &base.SourceServer.Username, flags.SourceServer.Username)
	set("source-path", &base.SourceInstancePath, flags.SourceInstancePath)
	set("target-ip", &base.TargetIP, flags.TargetIP)
	set("target-user", &base.TargetUser, flags.TargetUser)
	set("install-path", &base.InstallPath, flags.InstallPath)
	set("domain", &base.Domain, flags.Domain)
	set("email", &base.Email, flags.Email)
	set("database", &base.DatabaseType, flags.DatabaseType)
	if changed("target-password") || base.TargetPassword == "" {
		base.TargetPassword = flags.TargetPassword
	}
	if changed("source-port") {
		base.SourceServer.Port = flags.SourceServer.Port
	}
	if changed("target-port") {
		base.TargetPort = flags.TargetPort
	}
	return base
}

func runPlainDeploy(req model.DeploymentRequest) error {
	fmt.Printf("Deploying %s to %s...\n", req.Domain, req.TargetIP)
	resp, err := client.Deploy(req)
	if resp != nil {
		for _, line := range resp.Logs {
			fmt.Println(line)
		}
	}
	if err != nil {
		fmt.Println(style.ErrorBox.Render("✗ " + failureMessage(err)))
		return err
	}
	fmt.Println(style.SuccessBox.Render("✓ " + resp.Message))
	return nil
}

func failureMessage(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// --- Messages ---

type wsEvent struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type logEntry struct {
	step int
	line string
}

type deployStarted struct{ ch chan tea.Msg }
type deploymentID struct{ id string }
type deployFinished struct {
	resp *model.DeployResponse
	err  error
}

// --- Model ---

type stepState struct {
	num    int
	title  string
	status string // running, completed, failed
}

const tailLines = 6

type deployModel struct {
	req       model.DeploymentRequest
	spinner   spinner.Model
	steps     []stepState
	tail      []string
	live      bool
	id        string
	status    string // connecting, deploying, completed, failed
	errMsg    string
	failed    bool
	startTime time.Time
	eventCh   chan tea.Msg
}

func newDeployModel(req model.DeploymentRequest) deployModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(style.Primary)

	return deployModel{
		req:       req,
		spinner:   s,
		status:    "connecting",
		startTime: time.Now(),
	}
}

func (m deployModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, connectAndDeploy(m.req))
}

func (m deployModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Quitting only detaches; the server finishes the pipeline.
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case deployStarted:
		m.status = "deploying"
		m.eventCh = msg.ch
		return m, waitForEvent(m.eventCh)

	case deploymentID:
		m.id = msg.id
		return m, waitForEvent(m.eventCh)

	case logEntry:
		m.live = true
		m.steps = applyLine(m.steps, msg.step, msg.line)
		m.tail = appendTail(m.tail, msg.line)
		return m, waitForEvent(m.eventCh)

	case deployFinished:
		if !m.live && msg.resp != nil {
			for _, line := range msg.resp.Logs {
				m.steps = applyLine(m.steps, parseStep(line), line)
				m.tail = appendTail(m.tail, line)
			}
		}
		if msg.err != nil {
			m.status = "failed"
			m.failed = true
			m.errMsg = failureMessage(msg.err)
			m.steps = finishSteps(m.steps, "failed")
		} else {
			m.status = "completed"
			m.steps = finishSteps(m.steps, "completed")
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m deployModel) View() string {
	var b strings.Builder

	b.WriteString(style.Banner.Render("⛴ FERRY DEPLOY"))
	b.WriteString("\n")
	b.WriteString(style.Key.Render("Domain") + style.Bold.Render(m.req.Domain) + "\n")
	b.WriteString(style.Key.Render("Source") + style.Val.Render(m.req.SourceServer.IP+":"+m.req.SourceInstancePath) + "\n")
	b.WriteString(style.Key.Render("Target") + style.Val.Render(m.req.TargetIP+":"+m.req.InstallPath) + "\n")
	if m.id != "" {
		b.WriteString(style.Key.Render("Deployment") + lipgloss.NewStyle().Foreground(style.Cyan).Render(m.id) + "\n")
	}
	b.WriteString("\n")

	for _, s := range m.steps {
		label := padRight(fmt.Sprintf("%2d", s.num), 3) + s.title
		switch s.status {
		case "running":
			b.WriteString(fmt.Sprintf("  %s %s\n", m.spinner.View(), style.StepRunning.Render(label)))
		case "completed":
			b.WriteString(fmt.Sprintf("  %s %s\n", style.StepDone.Render("✓"), style.StepDone.Render(label)))
		case "failed":
			b.WriteString(fmt.Sprintf("  %s %s\n", style.StepFailed.Render("✗"), style.StepFailed.Render(label)))
		}
	}

	if len(m.tail) > 0 && m.status != "completed" {
		b.WriteString("\n")
		for _, line := range m.tail {
			b.WriteString(style.LogLine.Render(line) + "\n")
		}
	}

	b.WriteString("\n")
	elapsed := time.Since(m.startTime).Round(time.Second)

	switch m.status {
	case "connecting":
		b.WriteString(m.spinner.View() + style.DimText.Render(" Connecting to API..."))
	case "deploying":
		b.WriteString(m.spinner.View() + style.DimText.Render(fmt.Sprintf(" Pipeline running... (%s)  q detaches", elapsed)))
	case "completed":
		b.WriteString(style.SuccessBox.Render(fmt.Sprintf("✓ Deploy completed in %s", elapsed)))
	case "failed":
		msg := "Deploy failed"
		if m.errMsg != "" {
			msg = "Deploy failed: " + m.errMsg
		}
		b.WriteString(style.ErrorBox.Render("✗ " + msg))
	}

	b.WriteString("\n")
	return b.String()
}

var stepPrefix = regexp.MustCompile(`^\[Step (\d+)\] `)

func parseStep(line string) int {
	m := stepPrefix.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// applyLine advances the step list. The first line of a new step number is
// its title and closes the step before it.
func applyLine(steps []stepState, step int, line string) []stepState {
	if step == 0 {
		return steps
	}
	if n := len(steps); n > 0 && steps[n-1].num >= step {
		return steps
	}
	if n := len(steps); n > 0 {
		steps[n-1].status = "completed"
	}
	title := stepPrefix.ReplaceAllString(line, "")
	return append(steps, stepState{num: step, title: title, status: "running"})
}

// finishSteps sets the final state of the step still running.
func finishSteps(steps []stepState, last string) []stepState {
	if n := len(steps); n > 0 && steps[n-1].status == "running" {
		steps[n-1].status = last
	}
	return steps
}

func appendTail(tail []string, line string) []string {
	tail = append(tail, line)
	if len(tail) > tailLines {
		tail = tail[len(tail)-tailLines:]
	}
	return tail
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

// --- Commands ---

// connectAndDeploy subscribes to the event stream before starting the
// deploy so no step is missed. Without a stream the final response still
// carries the full log.
func connectAndDeploy(req model.DeploymentRequest) tea.Cmd {
	return func() tea.Msg {
		ch := make(chan tea.Msg, 64)
		readerDone := make(chan struct{})

		conn, _, err := websocket.DefaultDialer.Dial(client.WebSocketURL(), client.AuthHeader())
		if err != nil {
			close(readerDone)
		} else {
			go readEvents(conn, req.Domain, ch, readerDone)
		}

		go func() {
			resp, err := client.Deploy(req)
			if conn != nil {
				// Let broadcasts already in flight arrive before closing.
				time.Sleep(200 * time.Millisecond)
				conn.Close()
			}
			<-readerDone
			ch <- deployFinished{resp: resp, err: err}
			close(ch)
		}()

		return deployStarted{ch: ch}
	}
}

func readEvents(conn *websocket.Conn, domain string, ch chan<- tea.Msg, done chan<- struct{}) {
	defer close(done)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var event wsEvent
		if err := json.Unmarshal(message, &event); err != nil || event.Topic != domain {
			continue
		}

		switch event.Type {
		case "deploy.started":
			var d model.Deployment
			if json.Unmarshal(event.Payload, &d) == nil {
				ch <- deploymentID{id: d.ID}
			}
		case "deploy.log":
			var e struct {
				Step int    `json:"step"`
				Line string `json:"line"`
			}
			if json.Unmarshal(event.Payload, &e) == nil {
				ch <- logEntry{step: e.Step, line: e.Line}
			}
		}
	}
}

func waitForEvent(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}
