package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/stela-network/stela-backend/internal/auth"
	"github.com/stela-network/stela-backend/internal/model"
)

// UserService is what the user handler needs from the service layer.
type UserService interface {
	Register(ctx context.Context, callerID, email string) (*model.UserRecord, error)
	Get(ctx context.Context, callerID string) (*model.UserRecord, error)
}

// UserHandler exposes record registration and self-lookup.
type UserHandler struct {
	svc    UserService
	logger *slog.Logger
}

func NewUserHandler(svc UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{svc: svc, logger: logger}
}

type registerRequest struct {
	Email string `json:"email"`
}

// HandleRegister creates the caller's user record with a fresh referral
// code. The identity key is the verified token subject — the body only
// carries display fields.
//
// HTTP: POST /api/users
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid JSON body",
		})
		return
	}

	callerID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.svc.Register(r.Context(), callerID, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// HandleMe returns the caller's own record.
//
// HTTP: GET /api/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.svc.Get(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
