package cmd

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ferry/api/model"
	"ferry/cli/style"
)

var (
	serverInput   model.ServerInput
	serverKeyFile string
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage saved servers",
	RunE:  runServers,
}

var serverAddCmd = &cobra.Command{
	Use:   "add <name> <ip>",
	Short: "Save a server with a private key or password",
	Args:  cobra.ExactArgs(2),
	RunE:  runServerAdd,
}

var serverRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Short:   "Delete a saved server",
	Aliases: []string{"remove"},
	Args:    cobra.ExactArgs(1),
	RunE:    runServerRemove,
}

var serverTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Check that a saved server accepts its credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runServerTest,
}

var serverShellCmd = &cobra.Command{
	Use:   "shell <id>",
	Short: "Open an interactive shell on a saved server",
	Args:  cobra.ExactArgs(1),
	RunE:  runServerShell,
}

func init() {
	f := serverAddCmd.Flags()
	f.StringVarP(&serverInput.Username, "user", "u", "root", "SSH user")
	f.IntVarP(&serverInput.Port, "port", "p", 22, "SSH port")
	f.StringVarP(&serverKeyFile, "key-file", "i", "", "private key file")
	f.StringVar(&serverInput.Password, "password", os.Getenv("FERRY_SERVER_PASSWORD"), "SSH password")
	serversCmd.AddCommand(serverAddCmd, serverRemoveCmd, serverTestCmd, serverShellCmd)
	rootCmd.AddCommand(serversCmd)
}

func runServers(cmd *cobra.Command, args []string) error {
	list, err := client.ListServers()
	if err != nil {
		return fmt.Errorf("failed to fetch servers: %w", err)
	}

	fmt.Println(style.Banner.Render("⛴ SERVERS") + style.Subtitle.Render(fmt.Sprintf("  %d saved", len(list))))
	if len(list) == 0 {
		fmt.Println(style.DimText.Render("  No servers saved."))
		return nil
	}

	fmt.Println(style.TableHeader.Render(fmt.Sprintf("  %-36s  %-20s %-24s %s", "ID", "NAME", "ADDRESS", "AUTH")))
	for _, s := range list {
		auth := "password"
		if s.HasKey {
			auth = "key"
		}
		fmt.Printf("  %-36s  %-20s %-24s %s\n",
			s.ID,
			truncate(s.Name, 20),
			fmt.Sprintf("%s@%s:%d", s.Username, s.IP, s.Port),
			style.DimText.Render(auth),
		)
	}
	return nil
}

func runServerAdd(cmd *cobra.Command, args []string) error {
	in := serverInput
	in.Name, in.IP = args[0], args[1]
	if serverKeyFile != "" {
		key, err := os.ReadFile(serverKeyFile)
		if err != nil {
			return err
		}
		in.RSAKey = string(key)
	}
	if in.RSAKey == "" && in.Password == "" {
		return errors.New("either --key-file or --password is required")
	}

	s, err := client.CreateServer(in)
	if err != nil {
		return err
	}
	fmt.Println(style.SuccessBox.Render(fmt.Sprintf("✓ Saved %s (%s)", s.Name, s.ID)))
	return nil
}

func runServerRemove(cmd *cobra.Command, args []string) error {
	if err := client.DeleteServer(args[0]); err != nil {
		return err
	}
	fmt.Println(style.DimText.Render("Removed " + args[0]))
	return nil
}

func runServerTest(cmd *cobra.Command, args []string) error {
	res, err := client.TestServer(args[0])
	if err != nil {
		return err
	}
	if !res.Success {
		fmt.Println(style.ErrorBox.Render("✗ " + res.Message))
		return errors.New("connection failed")
	}
	fmt.Println(style.SuccessBox.Render("✓ " + res.Message))
	return nil
}

type shellIn struct {
	Stdin  *string      `json:"stdin,omitempty"`
	Resize *shellResize `json:"resize,omitempty"`
}

type shellResize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type shellOut struct {
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	Exit   *int   `json:"exit,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runServerShell(cmd *cobra.Command, args []string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("shell needs an interactive terminal")
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		cols, rows = 80, 24
	}

	conn, _, err := websocket.DefaultDialer.Dial(client.TerminalURL(args[0], cols, rows), client.AuthHeader())
	if err != nil {
		return fmt.Errorf("connect terminal: %w", err)
	}
	defer conn.Close()

	old, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	defer term.Restore(fd, old)

	var wmu sync.Mutex
	send := func(m shellIn) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(m)
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			s := string(buf[:n])
			if send(shellIn{Stdin: &s}) != nil {
				return
			}
		}
	}()

	go watchSize(fd, cols, rows, done, func(w, h int) {
		send(shellIn{Resize: &shellResize{Width: w, Height: h}})
	})

	for {
		var out shellOut
		if err := conn.ReadJSON(&out); err != nil {
			return nil
		}
		if out.Stdout != "" {
			os.Stdout.WriteString(out.Stdout)
		}
		if out.Stderr != "" {
			os.Stderr.WriteString(out.Stderr)
		}
		if out.Error != "" {
			term.Restore(fd, old)
			return errors.New(out.Error)
		}
		if out.Exit != nil {
			if *out.Exit != 0 {
				term.Restore(fd, old)
				return fmt.Errorf("shell exited with status %d", *out.Exit)
			}
			return nil
		}
	}
}

// watchSize polls the terminal size and reports changes until done closes.
func watchSize(fd, cols, rows int, done <-chan struct{}, resize func(w, h int)) {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			w, h, err := term.GetSize(fd)
			if err != nil || (w == cols && h == rows) {
				continue
			}
			cols, rows = w, h
			resize(w, h)
		}
	}
}
