package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ferry/api/deploy"
	"ferry/api/hub"
	"ferry/api/model"
	"ferry/api/store"
	"ferry/api/trail"
	"ferry/api/validate"
)

// Deploy runs the whole pipeline inside the request and answers with the
// accumulated log.
func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req model.DeploymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, model.DeployResponse{Logs: []string{}, Message: "invalid request body: " + err.Error()})
		return
	}
	req.Normalize()
	// Absent fields fail like the pipeline does; only the allow-list rules below are a 400.
	if missing := req.Missing(); len(missing) > 0 {
		writeJSONStatus(w, http.StatusInternalServerError, model.DeployResponse{
			Logs:    []string{},
			Message: "Missing required deployment parameters: " + strings.Join(missing, ", "),
		})
		return
	}
	if res := validate.Struct(&req); !res.Valid() {
		writeJSONStatus(w, http.StatusBadRequest, model.DeployResponse{
			Logs:    []string{},
			Message: "invalid request: " + strings.Join(res.Fields(), ", "),
		})
		return
	}

	// The pipeline outlives a dropped client connection.
	ctx := context.WithoutCancel(r.Context())

	d := &model.Deployment{
		ID:                 uuid.NewString(),
		Domain:             req.Domain,
		SourceIP:           req.SourceServer.IP,
		SourceInstancePath: req.SourceInstancePath,
		TargetIP:           req.TargetIP,
		InstallPath:        req.InstallPath,
		Status:             model.StatusRunning,
		StartedAt:          time.Now(),
	}
	if err := h.db.InsertDeployment(ctx, d); err != nil {
		h.logger.Error("record deployment", "domain", d.Domain, "error", err)
		writeJSONStatus(w, http.StatusInternalServerError, model.DeployResponse{Logs: []string{}, Message: "could not record deployment"})
		return
	}

	tr := trail.New(d.ID, d.Domain, h.db, trail.SinkFunc(func(_ context.Context, e trail.Entry) error {
		h.ws.Broadcast(hub.Event{Type: "deploy.log", Topic: e.Domain, Payload: e})
		return nil
	}))
	h.ws.Broadcast(hub.Event{Type: "deploy.started", Topic: d.Domain, Payload: d})

	res, err := h.deployer.Deploy(ctx, &req, tr)

	status, message, archiveKey := model.StatusSucceeded, "Deployment completed successfully", ""
	if res != nil {
		archiveKey = res.ArchiveKey
	}
	if err != nil {
		status, message = model.StatusFailed, err.Error()
	}
	if ferr := h.db.FinishDeployment(ctx, d.ID, status, message, archiveKey); ferr != nil {
		h.logger.Error("finish deployment", "id", d.ID, "error", ferr)
	}
	if h.metrics != nil {
		h.metrics.ObserveDeployment(string(status))
	}

	evt := "deploy.completed"
	if err != nil {
		evt = "deploy.failed"
	}
	h.ws.Broadcast(hub.Event{Type: evt, Topic: d.Domain, Payload: map[string]interface{}{
		"id":      d.ID,
		"status":  status,
		"message": message,
	}})

	if err != nil {
		h.logger.Warn("deployment failed", "id", d.ID, "domain", d.Domain, "error", err)
		writeJSONStatus(w, statusFor(err), model.DeployResponse{Logs: tr.Lines(), Message: message})
		return
	}
	h.logger.Info("deployment succeeded", "id", d.ID, "domain", d.Domain)
	writeJSON(w, model.DeployResponse{Success: true, Logs: tr.Lines(), Message: message})
}

func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.DeploymentFilter{
		Domain: q.Get("domain"),
		Status: q.Get("status"),
		Limit:  50,
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= 500 {
		f.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		f.Offset = n
	}

	list, total, err := h.db.ListDeployments(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"deployments": list,
		"total":       total,
		"limit":       f.Limit,
		"offset":      f.Offset,
	})
}

func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	d, err := h.db.GetDeployment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, d)
}

// DeploymentLog renders the persisted log as plain text.
func (h *Handler) DeploymentLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.db.GetDeployment(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	entries, err := h.db.DeploymentLog(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	var f trail.Formatter = &trail.PlainFormatter{}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(f.Format(entries)))
}

// DeploymentArchive redirects to a short-lived link for the retained archive.
func (h *Handler) DeploymentArchive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, errorResponse{Message: "archive retention is not configured"})
		return
	}
	d, err := h.db.GetDeployment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if d.ArchiveKey == "" {
		writeError(w, errors.Join(store.ErrNotFound, errors.New("no archive retained for this deployment")))
		return
	}
	url, err := h.archives.URL(r.Context(), d.ArchiveKey)
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, errors.Join(deploy.ErrInvalidRequest, err))
			return
		}
		since = t
	}
	stats, err := h.db.GetDailyStats(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}
