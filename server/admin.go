package server

import (
	"crypto/subtle"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// AuthConfig configures bearer token authentication for admin endpoints.
type AuthConfig struct {
	BearerToken string
}

// Authenticator verifies admin requests before they reach handlers.
type Authenticator struct {
	bearerToken string
}

// NewAuthenticator constructs an authenticator from configuration.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	token := strings.TrimSpace(cfg.BearerToken)
	if token == "" {
		return nil, fmt.Errorf("server: admin bearer token must be configured")
	}
	return &Authenticator{bearerToken: token}, nil
}

// Middleware enforces authentication for admin endpoints.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(a.bearerToken)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGateStatus(w http.ResponseWriter, r *http.Request) {
	gate := s.engine.Gate()
	writeJSON(w, http.StatusOK, map[string]any{
		"paused":    gate.Paused(),
		"threshold": gate.Threshold().FloatString(6),
	})
}

type thresholdRequest struct {
	Threshold string `json:"threshold"`
}

func (s *Server) handleThresholdOverride(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if !decodeBody(w, r, &req) {
		return
	}
	threshold, ok := new(big.Rat).SetString(strings.TrimSpace(req.Threshold))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "threshold must be a decimal ratio, e.g. 0.05"})
		return
	}
	if err := s.engine.Gate().SetThreshold(threshold); err != nil {
		s.writeError(w, r, err, errorContext{})
		return
	}
	s.logger.Printf("chainswap: peg threshold overridden to %s", threshold.FloatString(6))
	writeJSON(w, http.StatusOK, map[string]any{"threshold": threshold.FloatString(6)})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) handleGatePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.engine.Gate().SetPaused(req.Paused)
	s.logger.Printf("chainswap: gate paused=%t", req.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"paused": req.Paused})
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFailSwap(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	snapshot, err := s.engine.Fail(r.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		s.writeError(w, r, err, errorContext{})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}
	entries, err := s.history.RecentViolations(r.Context(), r.URL.Query().Get("pair"), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err, errorContext{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"violations": entries, "generatedAt": time.Now().Unix()})
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.NotFound(w, r)
		return
	}
	entries, err := s.history.RecentSamples(r.Context(), r.URL.Query().Get("pair"), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err, errorContext{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": entries, "generatedAt": time.Now().Unix()})
}

func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
