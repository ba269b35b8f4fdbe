package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"chainswap/chain"
	"chainswap/swap"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleCreateSwap(w http.ResponseWriter, r *http.Request) {
	var req swap.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.engine.CreateSwap(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err, errorContext{report: &result.SpreadAnalysis})
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.engine.ListSwaps(r.Context())
	if err != nil {
		s.writeError(w, r, err, errorContext{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"swaps": summaries, "count": len(summaries)})
}

func (s *Server) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.GetSwap(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, errorContext{})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleDeleteSwap(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteSwap(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err, errorContext{})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Refund(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err, errorContext{status: result.Status})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type executeRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleExecuteStep(w http.ResponseWriter, r *http.Request) {
	index, ok := stepIndex(w, r)
	if !ok {
		return
	}
	var req executeRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	result, err := s.engine.ExecuteStep(r.Context(), chi.URLParam(r, "id"), index, req.Force)
	if err != nil {
		s.writeError(w, r, err, errorContext{status: result.SwapStatus, canRefund: result.CanRefund, hasSwap: true})
		return
	}
	code := http.StatusOK
	if result.Status == swap.StepStatusPendingSignature {
		code = http.StatusAccepted
	}
	writeJSON(w, code, result)
}

type submitRequest struct {
	TransactionReference string `json:"transactionReference"`
	Chain                string `json:"chain"`
}

func (s *Server) handleSubmitStep(w http.ResponseWriter, r *http.Request) {
	index, ok := stepIndex(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.engine.SubmitStepResult(r.Context(), chi.URLParam(r, "id"), index, req.TransactionReference, chain.Ref(strings.ToLower(strings.TrimSpace(req.Chain))))
	if err != nil {
		s.writeError(w, r, err, errorContext{status: result.SwapStatus, canRefund: result.CanRefund, hasSwap: true})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func stepIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid step index"})
		return 0, false
	}
	return index, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
