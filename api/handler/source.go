package handler

import (
	"net/http"

	"ferry/api/model"
)

// ListSourceInstances lists the instance directories on a source host.
func (h *Handler) ListSourceInstances(w http.ResponseWriter, r *http.Request) {
	var req model.SourceRequest
	if !decode(w, r, &req) {
		return
	}
	instances, err := h.deployer.ListInstances(r.Context(), req)
	if err != nil {
		h.logger.Warn("list source instances", "ip", req.IP, "error", err)
		writeJSONStatus(w, statusFor(err), map[string]interface{}{
			"instances": []model.SourceInstance{},
			"message":   err.Error(),
		})
		return
	}
	writeJSON(w, map[string]interface{}{
		"instances": instances,
		"message":   "Instances listed successfully",
	})
}

// ReadSourceFile returns a file from a source host together with the
// progress log.
func (h *Handler) ReadSourceFile(w http.ResponseWriter, r *http.Request) {
	var req model.FileRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.deployer.ReadFile(r.Context(), req)
	if err != nil {
		writeJSONStatus(w, statusFor(err), map[string]interface{}{
			"message": err.Error(),
			"logs":    resp.Logs,
		})
		return
	}
	writeJSON(w, resp)
}

func (h *Handler) PreflightSource(w http.ResponseWriter, r *http.Request) {
	var req model.SourceRequest
	if !decode(w, r, &req) {
		return
	}
	rep, err := h.deployer.CheckSource(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rep)
}

func (h *Handler) PreflightTarget(w http.ResponseWriter, r *http.Request) {
	var req model.TargetRequest
	if !decode(w, r, &req) {
		return
	}
	st, err := h.deployer.CheckTarget(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st)
}

// Preflight checks the source and target hosts concurrently.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	var req model.PreflightRequest
	if !decode(w, r, &req) {
		return
	}
	rep, err := h.deployer.Preflight(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rep)
}
