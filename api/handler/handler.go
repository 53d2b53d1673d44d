package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"skald/api/config"
	"skald/api/consul"
	"skald/api/health"
	"skald/api/model"
	"skald/api/pipeline"
	"skald/api/saga"
	"skald/api/store"
	"skald/api/validate"
)

// Deps are the collaborators a Handler serves requests from. Recorder and
// Releases are optional.
type Deps struct {
	Config    *config.Config
	Pipeline  *pipeline.Pipeline
	SagaStore saga.Store
	Recorder  store.Recorder
	Releases  *consul.Client
	Validator *validate.Validator
	Checks    []health.Check
	Version   string
	Log       *zap.Logger
}

type Handler struct {
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
	sagaStore saga.Store
	recorder  store.Recorder
	releases  *consul.Client
	validator *validate.Validator
	checks    []health.Check
	version   string
	log       *zap.Logger

	// background is the parent context of asynchronous invocations; it is
	// cancelled on shutdown.
	background context.Context
}

func New(background context.Context, d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	if d.Validator == nil {
		d.Validator = &validate.Validator{}
	}
	return &Handler{
		cfg:        d.Config,
		pipeline:   d.Pipeline,
		sagaStore:  d.SagaStore,
		recorder:   d.Recorder,
		releases:   d.Releases,
		validator:  d.Validator,
		checks:     d.Checks,
		version:    d.Version,
		log:        log,
		background: background,
	}
}

// ValidateTarget is middleware that rejects malformed service or stage
// path parameters.
func ValidateTarget(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range []string{"service", "stage"} {
			if v := chi.URLParam(r, p); v != "" && !model.ValidName(v) {
				writeError(w, http.StatusBadRequest, "invalid "+p)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case model.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDeploymentsNotFound), errors.Is(err, model.ErrDeploymentNotFound), errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case model.IsTransient(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus sets the content type before the status line goes out.
func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}
