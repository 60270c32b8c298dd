package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chainrelay/mempool-gateway/normalize"
	"github.com/chainrelay/mempool-gateway/store"
)

type healthResponse struct {
	Status    string              `json:"status"`
	Timestamp string              `json:"timestamp"`
	Chains    []chainHealthStatus `json:"chains,omitempty"`
}

type chainHealthStatus struct {
	ChainID   uint64 `json:"chainId"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

// handleHealth reports process liveness plus, when a Supervisor was
// wired in, a per-chain snapshot of each upstream session's state.
// The overall status degrades to "degraded" if any configured chain is
// not currently streaming.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Timestamp: healthTimestamp()}

	if s.liveness != nil {
		for _, c := range s.liveness.Liveness() {
			resp.Chains = append(resp.Chains, chainHealthStatus{
				ChainID:   c.ChainID,
				Name:      c.Name,
				State:     c.State,
				Connected: c.Connected,
			})
			if !c.Connected {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type transactionsPage struct {
	Transactions []*normalize.PendingTx `json:"transactions"`
	Total        int                    `json:"total"`
	Limit        int                    `json:"limit"`
	Offset       int                    `json:"offset"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.PageFilter{
		FromPrefix: q.Get("from"),
		ToPrefix:   q.Get("to"),
		Status:     normalize.Status(q.Get("status")),
		Descending: q.Get("order") == "desc",
	}

	if raw := q.Get("chain"); raw != "" {
		chainID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chain id")
			return
		}
		filter.ChainID = &chainID
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	txs, total, err := s.storage.FindPage(filter)
	if err != nil {
		s.logger.Error("find page failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	limit := filter.Limit
	if limit <= 0 || limit > store.MaxPageLimit {
		limit = store.MaxPageLimit
	}

	writeJSON(w, http.StatusOK, transactionsPage{
		Transactions: txs,
		Total:        total,
		Limit:        limit,
		Offset:       filter.Offset,
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	tx, err := s.storage.Find(hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		s.logger.Error("find transaction failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var filter store.AggregateFilter
	if raw := r.URL.Query().Get("chain"); raw != "" {
		chainID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chain id")
			return
		}
		filter.ChainID = &chainID
	}

	agg, err := s.storage.Aggregate(filter)
	if err != nil {
		s.logger.Error("aggregate failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
