package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"launchpad/native/curve"
	"launchpad/observability"
	"launchpad/services/curved/index"
	"launchpad/state"
)

type problem struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorKinds = []struct {
	target error
	status int
	kind   string
}{
	{curve.ErrCurveNotFound, http.StatusNotFound, "not_found"},
	{index.ErrNotFound, http.StatusNotFound, "not_found"},
	{curve.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{curve.ErrAlreadyGraduated, http.StatusConflict, "already_graduated"},
	{curve.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{curve.ErrInvalidMetadata, http.StatusBadRequest, "invalid_metadata"},
	{curve.ErrInvalidAccount, http.StatusBadRequest, "invalid_account"},
	{state.ErrInvalidAccount, http.StatusBadRequest, "invalid_account"},
	{curve.ErrSlippageExceeded, http.StatusPreconditionFailed, "slippage_exceeded"},
	{curve.ErrInsufficientLiquidity, http.StatusUnprocessableEntity, "insufficient_liquidity"},
	{state.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
	{state.ErrBalanceOverflow, http.StatusBadRequest, "invalid_amount"},
	{curve.ErrArithmetic, http.StatusInternalServerError, "arithmetic"},
}

// classify maps an error to its HTTP status and public kind.
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.status, k.kind
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status, kind := classify(err)
	message := err.Error()
	if kind == "internal" {
		message = http.StatusText(status)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "kind", kind, "error", err)
	}
	if curve.IsRejection(err) || kind != "internal" {
		observability.Curve().RecordRejection(op, kind)
	}
	writeProblem(w, status, kind, message)
}

func writeProblem(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, problem{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
