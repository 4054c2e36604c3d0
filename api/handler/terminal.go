package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type terminalIn struct {
	Stdin  *string `json:"stdin,omitempty"`
	Resize *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"resize,omitempty"`
}

type terminalOut struct {
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	Exit   *int   `json:"exit,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Terminal bridges a websocket to an interactive shell on a stored server.
func (h *Handler) Terminal(w http.ResponseWriter, r *http.Request) {
	s, err := h.db.GetServer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	cols, rows := queryInt(r, "cols", 80), queryInt(r, "rows", 24)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("terminal upgrade", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var wmu sync.Mutex
	send := func(m terminalOut) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(m)
	}

	sess, err := h.deployer.Dialer.Dial(ctx, serverTarget(s))
	if err != nil {
		send(terminalOut{Error: err.Error()})
		return
	}
	defer sess.Close()

	sh, err := sess.Shell(ctx, cols, rows)
	if err != nil {
		send(terminalOut{Error: err.Error()})
		return
	}
	defer sh.Close()
	h.logger.Info("terminal opened", "server", s.ID, "host", s.IP)

	var pumps sync.WaitGroup
	pump := func(src io.Reader, wrap func(string) terminalOut) {
		defer pumps.Done()
		buf := make([]byte, 4096)
		for {
			n, err := src.Read(buf)
			if n > 0 {
				if send(wrap(string(buf[:n]))) != nil {
					cancel()
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
	pumps.Add(2)
	go pump(sh.Stdout(), func(s string) terminalOut { return terminalOut{Stdout: s} })
	go pump(sh.Stderr(), func(s string) terminalOut { return terminalOut{Stderr: s} })

	go func() {
		defer sh.Stdin().Close()
		for {
			var in terminalIn
			if err := conn.ReadJSON(&in); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Debug("terminal read", "error", err)
				}
				cancel()
				return
			}
			if in.Stdin != nil {
				if _, err := io.WriteString(sh.Stdin(), *in.Stdin); err != nil {
					h.logger.Debug("terminal stdin", "error", err)
					cancel()
					return
				}
			}
			if in.Resize != nil && in.Resize.Width > 0 && in.Resize.Height > 0 {
				sh.Resize(in.Resize.Width, in.Resize.Height)
			}
		}
	}()

	done := make(chan int, 1)
	go func() {
		code, _ := sh.Wait()
		done <- code
	}()

	select {
	case code := <-done:
		pumps.Wait()
		send(terminalOut{Exit: &code})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-ctx.Done():
	}
	h.logger.Info("terminal closed", "server", s.ID)
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
