package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ferry/api/hub"
	"ferry/api/model"
)

func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := h.db.ListInstances(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, list)
}

func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.db.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, inst)
}

func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var in model.InstanceInput
	if !decode(w, r, &in) {
		return
	}
	inst := &model.Instance{
		ID:            uuid.NewString(),
		Name:          in.Name,
		URL:           in.URL,
		Interval:      in.Interval,
		Status:        "pending",
		StatusHistory: []model.StatusEntry{},
		CreatedAt:     time.Now(),
	}
	if err := h.db.InsertInstance(r.Context(), inst); err != nil {
		writeError(w, err)
		return
	}
	h.schedule(inst)
	h.ws.Broadcast(hub.Event{Type: "instance.created", Topic: inst.ID, Payload: inst})
	writeJSONStatus(w, http.StatusCreated, inst)
}

func (h *Handler) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	var in model.InstanceInput
	if !decode(w, r, &in) {
		return
	}
	inst, err := h.db.UpdateInstance(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	h.schedule(inst)
	h.ws.Broadcast(hub.Event{Type: "instance.updated", Topic: inst.ID, Payload: inst})
	writeJSON(w, inst)
}

// DeleteInstance accepts the id as a path parameter or, for older clients,
// as ?id=.
func (h *Handler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id == "" {
		writeJSONStatus(w, http.StatusBadRequest, errorResponse{Message: "id is required"})
		return
	}
	if err := h.db.DeleteInstance(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if h.monitor != nil {
		h.monitor.Unschedule(id)
	}
	h.ws.Broadcast(hub.Event{Type: "instance.deleted", Topic: id})
	writeJSON(w, map[string]string{"message": "Instance deleted successfully"})
}

type probeRequest struct {
	ID  string `json:"id"`
	URL string `json:"url" validate:"required,http_url"`
}

type probeResponse struct {
	Message       string              `json:"message"`
	Status        string              `json:"status"`
	StatusHistory []model.StatusEntry `json:"statusHistory"`
	StatusCode    int                 `json:"statusCode"`
	StatusText    string              `json:"statusText"`
	Date          *time.Time          `json:"date"`
	Color         string              `json:"color"`
}

// ProbeInstance checks a URL immediately and records the result when an
// instance id is given.
func (h *Handler) ProbeInstance(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if !decode(w, r, &req) {
		return
	}
	inst, err := h.monitor.ProbeNow(r.Context(), req.ID, req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, probeResponse{
		Message:       "Instance status updated successfully",
		Status:        inst.Status,
		StatusHistory: inst.StatusHistory,
		StatusCode:    inst.StatusCode,
		StatusText:    inst.StatusText,
		Date:          inst.Date,
		Color:         inst.Color,
	})
}

func (h *Handler) schedule(inst *model.Instance) {
	if h.monitor == nil {
		return
	}
	if err := h.monitor.Schedule(inst); err != nil {
		h.logger.Warn("schedule instance probe", "instance", inst.ID, "error", err)
	}
}
