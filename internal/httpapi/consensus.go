// Package httpapi exposes the consensus orchestrator over HTTP JSON plus
// SSE/WebSocket event feeds.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/concordlab/concord/internal/audit"
	"github.com/concordlab/concord/internal/consensus"
	"github.com/concordlab/concord/internal/runstore"
)

// PoolResolver maps preset names to model pools. *config.PoolManager
// implements it.
type PoolResolver interface {
	Get(name string) ([]string, bool)
	Names() []string
}

// ConsensusHandler serves run submission and retrieval.
type ConsensusHandler struct {
	orch          *consensus.Orchestrator
	store         *runstore.Store // nil when no Redis is configured
	sink          audit.Sink      // nil disables run-record persistence
	pools         PoolResolver    // nil disables preset lookup
	defaultRounds int             // fills MaxRounds when the request omits it
	logger        *zap.Logger
}

func NewConsensusHandler(orch *consensus.Orchestrator, store *runstore.Store, logger *zap.Logger) *ConsensusHandler {
	return &ConsensusHandler{orch: orch, store: store, logger: logger}
}

// WithAuditSink records terminal run summaries to sink after each run.
func (h *ConsensusHandler) WithAuditSink(sink audit.Sink) *ConsensusHandler {
	h.sink = sink
	return h
}

// WithPoolResolver lets requests name a model-pool preset instead of
// listing models.
func (h *ConsensusHandler) WithPoolResolver(pools PoolResolver) *ConsensusHandler {
	h.pools = pools
	return h
}

// WithDefaultMaxRounds overrides the round budget applied to requests that
// leave max_rounds unset.
func (h *ConsensusHandler) WithDefaultMaxRounds(n int) *ConsensusHandler {
	h.defaultRounds = n
	return h
}

// RegisterRoutes registers the consensus endpoints on mux.
func (h *ConsensusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/consensus", h.handleSubmit)
	mux.HandleFunc("/api/v1/consensus/runs/", h.handleGetRun)
	mux.HandleFunc("/api/v1/pools", h.handleListPools)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// handleSubmit runs a consensus request synchronously and returns the
// terminal result. A total-failure run is still a 200: callers distinguish
// it through the total_failure flag and the sentinel final_text.
func (h *ConsensusHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}

	var body struct {
		consensus.Request
		// Pool names a preset; it fills ModelPool when models are omitted.
		Pool string `json:"pool"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return
	}

	req := body.Request
	if body.Pool != "" && len(req.ModelPool) == 0 {
		if h.pools == nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "pool presets not configured"})
			return
		}
		pool, ok := h.pools.Get(body.Pool)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown pool preset: " + body.Pool})
			return
		}
		req.ModelPool = pool
	}
	if req.MaxRounds == 0 && h.defaultRounds > 0 {
		req.MaxRounds = h.defaultRounds
	}

	res, err := h.orch.Run(r.Context(), req)
	if err != nil {
		// Run only errors on malformed requests.
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if h.store != nil {
		if err := h.store.Save(r.Context(), res); err != nil {
			h.logger.Warn("Failed to store run result",
				zap.String("run_id", res.RunID),
				zap.Error(err),
			)
		}
	}
	if h.sink != nil {
		if err := h.sink.RecordRun(r.Context(), audit.RecordFromResult(req.Prompt, res)); err != nil {
			h.logger.Warn("Failed to record run audit row",
				zap.String("run_id", res.RunID),
				zap.Error(err),
			)
		}
	}

	writeJSON(w, http.StatusOK, res)
}

// handleListPools serves GET /api/v1/pools with the available preset names.
func (h *ConsensusHandler) handleListPools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	names := []string{}
	if h.pools != nil {
		names = h.pools.Names()
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string][]string{"pools": names})
}

// handleGetRun serves GET /api/v1/consensus/runs/{id} from the run store.
func (h *ConsensusHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	if h.store == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "run store not configured"})
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/api/v1/consensus/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "run id required"})
		return
	}

	res, err := h.store.Get(r.Context(), runID)
	if errors.Is(err, runstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "run not found"})
		return
	}
	if err != nil {
		h.logger.Error("Run store lookup failed", zap.String("run_id", runID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "run store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
