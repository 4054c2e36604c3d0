// Package remote runs commands and moves files on hosts reached over SSH.
package remote

import (
	"context"
	"io"
	"net"
	"os"
	"strconv"
)

// Auth carries the credential for one connection. PrivateKey wins over
// Password when both are set.
type Auth struct {
	Password   string
	PrivateKey []byte
	Passphrase []byte
}

type Target struct {
	Host string
	Port int
	User string
	Auth Auth
}

func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Outcome is the result of one remote command. A non-zero ExitCode is not an
// error; errors are reserved for transport failures.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (o Outcome) OK() bool { return o.ExitCode == 0 }

type Dialer interface {
	Dial(ctx context.Context, t Target) (Session, error)
}

// Session is one authenticated connection. It is not safe for concurrent use.
type Session interface {
	Run(ctx context.Context, cmd string) (Outcome, error)
	Download(ctx context.Context, remotePath, localPath string) error
	Upload(ctx context.Context, localPath, remotePath string) error
	WriteFile(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error
	Shell(ctx context.Context, cols, rows int) (Shell, error)
	Close() error
}

// Shell is an interactive login shell with a pseudo terminal.
type Shell interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Resize(cols, rows int) error
	// Wait blocks until the shell exits and returns its exit status.
	Wait() (int, error)
	Close() error
}
