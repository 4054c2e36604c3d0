package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ferry/api/model"
	"ferry/api/remote"
)

const serverTestTimeout = 15 * time.Second

func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	list, err := h.db.ListServers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	s, err := h.db.GetServer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s)
}

func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var in model.ServerInput
	if !decode(w, r, &in) {
		return
	}
	if in.RSAKey == "" && in.Password == "" {
		writeJSONStatus(w, http.StatusBadRequest, errorResponse{Message: "rsaKey or password is required"})
		return
	}
	s := in.ToServer(uuid.NewString())
	s.CreatedAt = time.Now()
	if err := h.db.InsertServer(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, s)
}

// UpdateServer keeps the stored credentials when the input carries none.
func (h *Handler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	var in model.ServerInput
	if !decode(w, r, &in) {
		return
	}
	s, err := h.db.UpdateServer(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, s)
}

func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteServer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "Server deleted successfully"})
}

type serverTestRequest struct {
	ID       string `json:"id"`
	Username string `json:"username" validate:"omitempty,username"`
	IP       string `json:"ip" validate:"omitempty,ip|hostname"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	RSAKey   string `json:"rsaKey,omitempty"`
	Password string `json:"password,omitempty"`
}

// TestServer dials a stored server, or the connection details in the body,
// and runs a trivial command.
func (h *Handler) TestServer(w http.ResponseWriter, r *http.Request) {
	var req serverTestRequest
	if !decode(w, r, &req) {
		return
	}
	target := remote.Target{
		Host: req.IP,
		Port: req.Port,
		User: req.Username,
		Auth: remote.Auth{PrivateKey: keyBytes(req.RSAKey), Password: req.Password},
	}
	switch {
	case req.ID != "":
		s, err := h.db.GetServer(r.Context(), req.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		target = serverTarget(s)
	case req.IP == "":
		writeJSONStatus(w, http.StatusBadRequest, errorResponse{Message: "id or ip is required"})
		return
	}
	if target.User == "" {
		target.User = "root"
	}

	ctx, cancel := context.WithTimeout(r.Context(), serverTestTimeout)
	defer cancel()

	sess, err := h.deployer.Dialer.Dial(ctx, target)
	if err != nil {
		writeJSON(w, map[string]interface{}{"success": false, "message": err.Error()})
		return
	}
	defer sess.Close()

	out, err := sess.Run(ctx, "echo connected")
	if err != nil || !strings.Contains(out.Stdout, "connected") {
		msg := "connection test failed"
		if err != nil {
			msg = err.Error()
		}
		writeJSON(w, map[string]interface{}{"success": false, "message": msg})
		return
	}
	writeJSON(w, map[string]interface{}{"success": true, "message": "Connection successful"})
}

func serverTarget(s *model.Server) remote.Target {
	return remote.Target{
		Host: s.IP,
		Port: s.Port,
		User: s.Username,
		Auth: remote.Auth{PrivateKey: keyBytes(s.RSAKey), Password: s.Password},
	}
}

func keyBytes(k string) []byte {
	if k == "" {
		return nil
	}
	return []byte(k)
}

