package handler

import (
	"context"
	"net/http"
	"time"

	"skald/api/health"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := health.RunChecks(ctx, h.checks)
	writeJSON(w, map[string]any{
		"status":   health.Overall(services),
		"services": services,
	})
}

func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": h.version})
}
