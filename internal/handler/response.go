package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stela-network/stela-backend/internal/apperror"
)

// ErrorResponse is the standard error format for hard failures. The
// referral operations' NORMAL failure outcomes (invalid code, self
// referral, already referred) do not use this — they come back as
// 200-with-success:false bodies, because callers branch on them rather
// than treat them as faults. See reasonOutcome.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable kind, e.g. "not_found"
	Message string `json:"message"` // human-readable description
}

// writeJSON sends a JSON response. Headers and status must be written
// before the body; if encoding fails after that, logging is all that's
// left.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status for the hard-failure
// paths. Store transaction failures surface as 500 — the engine never
// hides them, the caller decides whether to retry.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		errorType := "internal_error"

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			errorType = "validation_error"
		case errors.Is(err, apperror.ErrUnauthenticated):
			status = http.StatusUnauthorized
			errorType = "unauthenticated"
		case errors.Is(err, apperror.ErrNotFound):
			status = http.StatusNotFound
			errorType = "not_found"
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
			errorType = "conflict"
		case errors.Is(err, apperror.ErrStoreTx):
			status = http.StatusInternalServerError
			errorType = "store_transaction_failure"
		}

		writeJSON(w, status, ErrorResponse{
			Error:   errorType,
			Message: appErr.Message,
		})
		return
	}

	// Unknown error — generic 500, no internal details leaked.
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// reasonOutcome reports whether err is one of the referral flow's normal
// outcomes and, if so, the client-facing reason string to return in a
// success:false body.
func reasonOutcome(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if !errors.Is(err, apperror.ErrNotFound) &&
		!errors.Is(err, apperror.ErrSelfReferral) &&
		!errors.Is(err, apperror.ErrAlreadyReferred) &&
		!errors.Is(err, apperror.ErrValidation) {
		return "", false
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message, true
	}
	return err.Error(), true
}
