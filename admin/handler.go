package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fortressi/sagaflow"
	"github.com/fortressi/sagaflow/breaker"
	"github.com/fortressi/sagaflow/dag"
)

type handler[C any] struct {
	registry *sagaflow.Registry[C]
	breakers *breaker.Registry
	logger   *zap.Logger
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SagaList is the body of GET /sagas.
type SagaList[C any] struct {
	Count int                      `json:"count"`
	Sagas []*sagaflow.SagaState[C] `json:"sagas"`
}

func (h *handler[C]) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"sagas":  h.registry.Len(),
	})
}

func (h *handler[C]) listSagas(w http.ResponseWriter, r *http.Request) {
	var sagas []*sagaflow.SagaState[C]
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := sagaflow.ParseSagaStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		sagas = h.registry.Filter(status)
	} else {
		sagas = h.registry.ActiveSagas()
	}
	if sagas == nil {
		sagas = []*sagaflow.SagaState[C]{}
	}
	writeJSON(w, http.StatusOK, SagaList[C]{Count: len(sagas), Sagas: sagas})
}

func (h *handler[C]) getSaga(w http.ResponseWriter, r *http.Request) {
	state, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handler[C]) getGraph(w http.ResponseWriter, r *http.Request) {
	state, ok := h.lookup(w, r)
	if !ok {
		return
	}
	out, err := dag.RenderDOT(state)
	if err != nil {
		h.logger.Error("render saga graph", zap.String("saga_id", state.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "render_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (h *handler[C]) listBreakers(w http.ResponseWriter, _ *http.Request) {
	if h.breakers == nil {
		writeJSON(w, http.StatusOK, []breaker.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, h.breakers.Stats())
}

func (h *handler[C]) lookup(w http.ResponseWriter, r *http.Request) (*sagaflow.SagaState[C], bool) {
	id := chi.URLParam(r, "id")
	state, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "saga_not_found", "no saga with id "+id)
		return nil, false
	}
	return state, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
