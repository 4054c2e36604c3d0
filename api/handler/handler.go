package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ferry/api/deploy"
	"ferry/api/hub"
	"ferry/api/model"
	"ferry/api/store"
	"ferry/api/trail"
	"ferry/api/validate"
)

const maxBodyBytes = 1 << 20

// Store is the persistence the API needs. *store.DB implements it.
type Store interface {
	trail.Sink
	Ping(ctx context.Context) error

	InsertDeployment(ctx context.Context, d *model.Deployment) error
	FinishDeployment(ctx context.Context, id string, status model.DeployStatus, message, archiveKey string) error
	ListDeployments(ctx context.Context, f store.DeploymentFilter) ([]model.Deployment, int, error)
	GetDeployment(ctx context.Context, id string) (*model.Deployment, error)
	DeploymentLog(ctx context.Context, id string) ([]trail.Entry, error)
	GetDailyStats(ctx context.Context, since time.Time) (*store.DailyStats, error)

	InsertInstance(ctx context.Context, inst *model.Instance) error
	ListInstances(ctx context.Context) ([]model.Instance, error)
	GetInstance(ctx context.Context, id string) (*model.Instance, error)
	UpdateInstance(ctx context.Context, id string, in model.InstanceInput) (*model.Instance, error)
	DeleteInstance(ctx context.Context, id string) error

	InsertServer(ctx context.Context, s *model.Server) error
	ListServers(ctx context.Context) ([]model.Server, error)
	GetServer(ctx context.Context, id string) (*model.Server, error)
	UpdateServer(ctx context.Context, id string, in model.ServerInput) (*model.Server, error)
	DeleteServer(ctx context.Context, id string) error
}

// Monitor keeps one probe job per monitored instance.
type Monitor interface {
	Schedule(inst *model.Instance) error
	Unschedule(id string)
	ProbeNow(ctx context.Context, id, url string) (*model.Instance, error)
}

// Archives links to retained instance archives. Optional.
type Archives interface {
	URL(ctx context.Context, key string) (string, error)
	Healthy(ctx context.Context) error
}

// DeployObserver counts finished deployments. Optional.
type DeployObserver interface {
	ObserveDeployment(status string)
}

type Handler struct {
	db       Store
	deployer *deploy.Orchestrator
	monitor  Monitor
	ws       *hub.Hub
	upgrader websocket.Upgrader

	archives Archives
	metrics  DeployObserver
	logger   *slog.Logger
}

func New(db Store, deployer *deploy.Orchestrator, monitor Monitor, ws *hub.Hub, allowedOrigins []string) *Handler {
	return &Handler{
		db:       db,
		deployer: deployer,
		monitor:  monitor,
		ws:       ws,
		upgrader: hub.Upgrader(allowedOrigins),
		logger:   slog.Default(),
	}
}

func (h *Handler) WithArchives(a Archives) *Handler {
	h.archives = a
	return h
}

func (h *Handler) WithMetrics(m DeployObserver) *Handler {
	h.metrics = m
	return h
}

func (h *Handler) WithLogger(l *slog.Logger) *Handler {
	h.logger = l
	return h
}

type errorResponse struct {
	Success  bool                      `json:"success"`
	Message  string                    `json:"message"`
	Findings []model.ValidationFinding `json:"findings,omitempty"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, deploy.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, deploy.ErrDeploymentInProgress):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONStatus(w, statusFor(err), errorResponse{Message: err.Error()})
}

func writeInvalid(w http.ResponseWriter, res *model.ValidationResult) {
	msgs := make([]string, 0, len(res.Findings))
	for _, f := range res.Findings {
		msgs = append(msgs, f.Message)
	}
	writeJSONStatus(w, http.StatusBadRequest, errorResponse{
		Message:  strings.Join(msgs, "; "),
		Findings: res.Findings,
	})
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, errorResponse{Message: "invalid request body: " + err.Error()})
		return false
	}
	if res := validate.Struct(v); !res.Valid() {
		writeInvalid(w, res)
		return false
	}
	return true
}
