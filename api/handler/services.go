package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"skald/api/model"
	"skald/api/pipeline"
)

func (h *Handler) discoverServices() ([]*model.Manifest, error) {
	return model.DiscoverServices(h.cfg.AppsDir)
}

func (h *Handler) findService(name string) (*model.Manifest, error) {
	manifests, err := h.discoverServices()
	if err != nil {
		return nil, err
	}
	for _, m := range manifests {
		if m.Service == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("service %s: %w", name, model.ErrNotFound)
}

// target resolves the path's service and stage. The region comes from the
// query string, then the request body, then configuration.
func (h *Handler) target(r *http.Request, region string) model.Target {
	service := chi.URLParam(r, "service")
	stage := chi.URLParam(r, "stage")
	if q := r.URL.Query().Get("region"); q != "" {
		region = q
	}
	if region == "" {
		region = h.cfg.AWSRegion
	}
	if m, err := h.findService(service); err == nil {
		return m.Target(stage, region, h.cfg.S3Bucket)
	}
	return model.Target{Service: service, Stage: stage, Region: region, Bucket: h.cfg.S3Bucket}
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	manifests, err := h.discoverServices()
	if err != nil {
		writeErr(w, err)
		return
	}
	if manifests == nil {
		manifests = []*model.Manifest{}
	}
	writeJSON(w, manifests)
}

func (h *Handler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	ds, err := h.pipeline.List(r.Context(), h.target(r, ""))
	if err != nil {
		writeErr(w, err)
		return
	}
	if ds == nil {
		ds = []model.Deployment{}
	}
	writeJSON(w, ds)
}

func (h *Handler) CurrentRelease(w http.ResponseWriter, r *http.Request) {
	if h.releases == nil {
		writeError(w, http.StatusNotFound, "release tracking is not configured")
		return
	}
	rel, err := h.releases.Current(r.Context(), h.target(r, ""))
	if err != nil {
		writeErr(w, err)
		return
	}
	if rel == nil {
		writeError(w, http.StatusNotFound, "no release recorded")
		return
	}
	writeJSON(w, rel)
}

type deployRequest struct {
	Region string `json:"region"`
}

func (h *Handler) Deploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	service := chi.URLParam(r, "service")
	m, err := h.findService(service)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := m.Validate(); err != nil {
		writeErr(w, err)
		return
	}

	inv, err := h.pipeline.Begin(r.Context(), model.KindDeploy, h.target(r, req.Region))
	if err != nil {
		writeErr(w, err)
		return
	}
	go func() {
		if _, err := h.pipeline.Deploy(h.background, inv, m); err != nil {
			h.log.Warn("deploy failed", zap.String("saga", inv.SagaID), zap.Error(err))
		}
	}()

	writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"sagaId": inv.SagaID,
		"status": "deploying",
	})
}

type rollbackRequest struct {
	Timestamp string `json:"timestamp"`
	Region    string `json:"region"`
}

// Rollback resolves the timestamp before answering so unknown deployments
// are reported as 404; the stack update itself runs in the background.
func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := pipeline.ValidateTimestamp(req.Timestamp); err != nil {
		writeErr(w, err)
		return
	}
	target := h.target(r, req.Region)
	ds, err := h.pipeline.List(r.Context(), target)
	if err != nil {
		writeErr(w, err)
		return
	}
	if _, err := pipeline.Match(ds, req.Timestamp, target.DeploymentPrefix()); err != nil {
		writeErr(w, err)
		return
	}

	var params map[string]string
	if m, err := h.findService(target.Service); err == nil {
		params = m.Parameters
	}
	inv, err := h.pipeline.Begin(r.Context(), model.KindRollback, target)
	if err != nil {
		writeErr(w, err)
		return
	}
	go func() {
		if _, err := h.pipeline.Rollback(h.background, inv, req.Timestamp, params); err != nil {
			h.log.Warn("rollback failed", zap.String("saga", inv.SagaID), zap.Error(err))
		}
	}()

	writeJSONStatus(w, http.StatusAccepted, map[string]string{
		"sagaId":    inv.SagaID,
		"status":    "rolling_back",
		"timestamp": req.Timestamp,
	})
}

type cleanupRequest struct {
	Keep   *int   `json:"keep"`
	Region string `json:"region"`
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	target := h.target(r, req.Region)
	keep := model.DefaultRetention
	if req.Keep != nil {
		keep = *req.Keep
	} else if m, err := h.findService(target.Service); err == nil {
		keep = m.Retention()
	}

	inv, err := h.pipeline.Begin(r.Context(), model.KindCleanup, target)
	if err != nil {
		writeErr(w, err)
		return
	}
	report, err := h.pipeline.Cleanup(r.Context(), inv, keep)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"sagaId":   inv.SagaID,
		"removed":  report.Removed,
		"warnings": report.Warnings,
	})
}

// Validate runs the preflight checks for a service stage. Findings are
// reported with 200 whether or not the manifest is deployable.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	m, err := h.findService(chi.URLParam(r, "service"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, h.validator.Validate(r.Context(), m, h.target(r, "")))
}
