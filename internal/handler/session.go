package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/stela-network/stela-backend/internal/auth"
	"github.com/stela-network/stela-backend/internal/model"
)

// SessionService is what the session handler needs from the service layer.
type SessionService interface {
	Start(ctx context.Context, callerID string) (*model.UserRecord, error)
	Stop(ctx context.Context, callerID string) (*model.UserRecord, error)
	TouchActivity(ctx context.Context, callerID string) error
}

// SessionHandler exposes mining session transitions.
type SessionHandler struct {
	svc    SessionService
	logger *slog.Logger
}

func NewSessionHandler(svc SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger}
}

type sessionResponse struct {
	Success bool              `json:"success"`
	User    *model.UserRecord `json:"user"`
}

// HandleStart begins a mining session for the caller.
//
// HTTP: POST /api/session/start
func (h *SessionHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.svc.Start(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Success: true, User: user})
}

// HandleStop ends the caller's mining session. Stopping an already-
// stopped session succeeds and returns the current record unchanged.
//
// HTTP: POST /api/session/stop
func (h *SessionHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.svc.Stop(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Success: true, User: user})
}

// HandleActivity records a client activity ping for the inactivity
// classification.
//
// HTTP: POST /api/activity/ping
func (h *SessionHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())

	if err := h.svc.TouchActivity(r.Context(), callerID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
