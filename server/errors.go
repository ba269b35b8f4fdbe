package server

import (
	"errors"
	"net/http"

	"chainswap/swap"
)

// errorContext carries swap-level state into error bodies so clients can act
// on a failure without a follow-up GET.
type errorContext struct {
	status    swap.Status
	canRefund bool
	hasSwap   bool
	report    *swap.GateReport
}

type errorBody struct {
	Error          string           `json:"error"`
	SwapStatus     swap.Status      `json:"swapStatus,omitempty"`
	CanRefund      *bool            `json:"canRefund,omitempty"`
	SpreadAnalysis *swap.GateReport `json:"spreadAnalysis,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, ctx errorContext) {
	code := statusCode(err)
	body := errorBody{Error: err.Error()}
	if ctx.hasSwap || ctx.status != "" {
		body.SwapStatus = ctx.status
		canRefund := ctx.canRefund
		body.CanRefund = &canRefund
	}
	if ctx.report != nil && ctx.report.Pair != "" {
		body.SpreadAnalysis = ctx.report
	}
	if code >= http.StatusInternalServerError {
		s.logger.Printf("chainswap: %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, code, body)
}

func statusCode(err error) int {
	var verr *swap.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, swap.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, swap.ErrExpired):
		return http.StatusRequestTimeout
	case errors.Is(err, swap.ErrInvalidStep), errors.Is(err, swap.ErrInsufficientSpread):
		return http.StatusBadRequest
	case errors.Is(err, swap.ErrStepAlreadyCompleted),
		errors.Is(err, swap.ErrOrderingViolation),
		errors.Is(err, swap.ErrTerminal),
		errors.Is(err, swap.ErrNotRefundable):
		return http.StatusConflict
	case errors.Is(err, swap.ErrPegProtectionTriggered):
		return http.StatusLocked
	case errors.Is(err, swap.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
