package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/stela-network/stela-backend/internal/auth"
	"github.com/stela-network/stela-backend/internal/service"
)

// TeamService is what the team handler needs from the service layer.
type TeamService interface {
	PingInactive(ctx context.Context, callerID string) (*service.TeamPingResult, error)
}

// TeamHandler exposes the team activity prober.
type TeamHandler struct {
	svc    TeamService
	logger *slog.Logger
}

func NewTeamHandler(svc TeamService, logger *slog.Logger) *TeamHandler {
	return &TeamHandler{svc: svc, logger: logger}
}

type teamPingResponse struct {
	Success      bool                 `json:"success"`
	PingedCount  int                  `json:"pingedCount"`
	TotalMembers int                  `json:"totalMembers"`
	Results      []service.MemberPing `json:"results"`
}

// HandlePing scans the caller's team and nudges inactive members.
//
// HTTP: POST /api/team/ping
// Individual delivery failures are reflected in the per-member results,
// never as a failure of the whole request.
func (h *TeamHandler) HandlePing(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserIDFromContext(r.Context())

	result, err := h.svc.PingInactive(r.Context(), callerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, teamPingResponse{
		Success:      true,
		PingedCount:  result.PingedCount,
		TotalMembers: result.TotalMembers,
		Results:      result.Results,
	})
}
