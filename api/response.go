package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"escrow/address"
	"escrow/auction"
	"escrow/store"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

func respondOK(w http.ResponseWriter, r *http.Request, response any) {
	w.Header().Set("content-type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Too late to change the status code.
		return
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error, fallbackCode int, logger log.Logger) {
	code, trueError := classifyError(err, fallbackCode)

	if trueError {
		level.Error(logger).Log("remote_addr", r.RemoteAddr, "method", r.Method, "path", r.URL.Path, "err", err, "code", code)
	} else {
		level.Debug(logger).Log("remote_addr", r.RemoteAddr, "method", r.Method, "path", r.URL.Path, "quasi_err", err, "code", code)
	}

	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(errorResponse{
		Error:      err.Error(),
		Code:       reasonCode(err),
		StatusCode: code,
		StatusText: http.StatusText(code),
	}); err != nil {
		level.Debug(logger).Log("msg", "write error response", "err", err)
	}
}

func classifyError(err error, fallback int) (int, bool) {
	switch {
	case err == nil:
		return http.StatusOK, false
	case errors.Is(err, auction.ErrRoleViolation):
		return http.StatusForbidden, false
	case errors.Is(err, auction.ErrInsufficientBid):
		return http.StatusConflict, false
	case errors.Is(err, auction.ErrNothingToWithdraw):
		return http.StatusConflict, false
	case errors.Is(err, auction.ErrInvalidState):
		return http.StatusConflict, false
	case errors.Is(err, auction.ErrCustodyTransferFailed):
		return http.StatusBadGateway, true
	case errors.Is(err, auction.ErrPaymentFailed):
		return http.StatusBadGateway, true
	case errors.Is(err, auction.ErrInvalidTerms):
		return http.StatusBadRequest, true
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, false
	case errors.Is(err, address.ErrInvalidAddress):
		return http.StatusBadRequest, false
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, true
	default:
		return fallback, true
	}
}

// reasonCode extends auction.Code with the request errors this package
// produces.
func reasonCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, address.ErrInvalidAddress):
		return "invalid_request"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return auction.Code(err)
	}
}

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	StatusCode int    `json:"status_code"`
	StatusText string `json:"status_text"`
}
