package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"skald/api/model"
	"skald/api/saga"
	"skald/api/store"
)

func queryLimit(r *http.Request) int {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

func (h *Handler) GetSagaEvents(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "sagaId")
	events, err := h.sagaStore.ListBySaga(r.Context(), sagaID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if events == nil {
		events = []saga.Event{}
	}
	writeJSON(w, events)
}

func (h *Handler) ListRecentSaga(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r)
	var events []saga.Event
	var err error
	if target := r.URL.Query().Get("target"); target != "" {
		events, err = h.sagaStore.ListByTarget(r.Context(), target, limit)
	} else {
		events, err = h.sagaStore.ListRecent(r.Context(), limit)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	if events == nil {
		events = []saga.Event{}
	}
	writeJSON(w, events)
}

func (h *Handler) ListInvocations(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		writeJSON(w, []model.Invocation{})
		return
	}
	q := r.URL.Query()
	invs, err := h.recorder.ListInvocations(r.Context(), store.InvocationFilter{
		Service: q.Get("service"),
		Stage:   q.Get("stage"),
		Kind:    q.Get("kind"),
		Limit:   queryLimit(r),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if invs == nil {
		invs = []model.Invocation{}
	}
	writeJSON(w, invs)
}
