package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes registers the API under /api. limit wraps the endpoints that open
// SSH sessions on behalf of the caller.
func (h *Handler) Routes(r chi.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)

		r.With(limit).Post("/deploy", h.Deploy)
		r.With(limit).Post("/preflight", h.Preflight)
		r.With(limit).Post("/preflight/source", h.PreflightSource)
		r.With(limit).Post("/preflight/target", h.PreflightTarget)
		r.With(limit).Post("/source/instances", h.ListSourceInstances)
		r.With(limit).Post("/source/file", h.ReadSourceFile)

		r.Get("/deployments", h.ListDeployments)
		r.Get("/deployments/{id}", h.GetDeployment)
		r.Get("/deployments/{id}/log", h.DeploymentLog)
		r.Get("/deployments/{id}/archive", h.DeploymentArchive)

		r.Get("/instances", h.ListInstances)
		r.Post("/instances", h.CreateInstance)
		r.Delete("/instances", h.DeleteInstance)
		r.Get("/instances/{id}", h.GetInstance)
		r.Put("/instances/{id}", h.UpdateInstance)
		r.Delete("/instances/{id}", h.DeleteInstance)
		r.Post("/monitoring", h.ProbeInstance)

		r.Get("/servers", h.ListServers)
		r.Post("/servers", h.CreateServer)
		r.With(limit).Post("/servers/test", h.TestServer)
		r.Get("/servers/{id}", h.GetServer)
		r.Put("/servers/{id}", h.UpdateServer)
		r.Delete("/servers/{id}", h.DeleteServer)
		r.Get("/servers/{id}/terminal", h.Terminal)
	})
}
