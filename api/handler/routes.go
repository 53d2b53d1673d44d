package handler

import (
	"github.com/go-chi/chi/v5"
)

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/version", h.Version)

		r.Get("/services", h.ListServices)
		r.Get("/saga", h.ListRecentSaga)
		r.Get("/saga/{sagaId}", h.GetSagaEvents)
		r.Get("/invocations", h.ListInvocations)

		r.Route("/services/{service}/{stage}", func(r chi.Router) {
			r.Use(ValidateTarget)
			r.Get("/deployments", h.ListDeployments)
			r.Get("/current", h.CurrentRelease)
			r.Get("/validate", h.Validate)
			r.Post("/deploy", h.Deploy)
			r.Post("/rollback", h.Rollback)
			r.Post("/cleanup", h.Cleanup)
		})
	})
}
