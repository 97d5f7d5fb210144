package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/stela-network/stela-backend/internal/auth"
	"github.com/stela-network/stela-backend/internal/model"
	"github.com/stela-network/stela-backend/internal/service"
)

// ReferralService is what the referral handler needs from the service
// layer. Declared here so tests can substitute a mock.
type ReferralService interface {
	ValidateCode(ctx context.Context, callerID, code string) (*model.UserRecord, error)
	Attach(ctx context.Context, callerID, code string) (*service.AttachResult, error)
	UpdateActiveRate(ctx context.Context, callerID string, isMining bool) (*service.RateUpdate, error)
}

// ReferralHandler exposes the referral ledger operations.
type ReferralHandler struct {
	svc    ReferralService
	logger *slog.Logger
}

func NewReferralHandler(svc ReferralService, logger *slog.Logger) *ReferralHandler {
	return &ReferralHandler{svc: svc, logger: logger}
}

type validateRequest struct {
	ReferralCode string `json:"referralCode"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// HandleValidate checks a referral code without mutating anything.
//
// HTTP: POST /api/referral/validate
// Runs under OptionalAuth — with no identity the self-referral check is
// skipped, which is the documented pre-authentication behaviour.
func (h *ReferralHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid JSON body",
		})
		return
	}

	callerID, _ := auth.UserIDFromContext(r.Context())

	_, err := h.svc.ValidateCode(r.Context(), callerID, req.ReferralCode)
	if err != nil {
		if reason, ok := reasonOutcome(err); ok {
			writeJSON(w, http.StatusOK, validateResponse{Valid: false, Message: reason})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{Valid: true, Message: "Referral code is valid"})
}

type attachRequest struct {
	ReferralCode string `json:"referralCode"`
}

type attachResponse struct {
	Success      bool    `json:"success"`
	BonusApplied float64 `json:"bonusApplied,omitempty"`
	ReferralCode string  `json:"referralCode,omitempty"`
	Message      string  `json:"message"`
}

// HandleAttach performs the one-shot attach-and-bonus for the caller.
//
// HTTP: POST /api/referral/attach
// Invalid code, self referral, and already-referred are normal outcomes:
// 200 with success:false and the reason string. Only infrastructure
// failures produce error statuses.
func (h *ReferralHandler) HandleAttach(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid JSON body",
		})
		return
	}

	callerID, _ := auth.UserIDFromContext(r.Context())

	result, err := h.svc.Attach(r.Context(), callerID, req.ReferralCode)
	if err != nil {
		if reason, ok := reasonOutcome(err); ok {
			writeJSON(w, http.StatusOK, attachResponse{Success: false, Message: reason})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, attachResponse{
		Success:      true,
		BonusApplied: result.BonusApplied,
		ReferralCode: result.ReferralCode,
		Message:      "Referral processed successfully",
	})
}

type rateRequest struct {
	IsMining bool `json:"isMining"`
}

type rateResponse struct {
	Success            bool     `json:"success"`
	NewActiveReferrals *int     `json:"newActiveReferrals,omitempty"`
	NewMiningRate      *float64 `json:"newMiningRate,omitempty"`
}

// HandleRate adjusts the caller's referrer after a mining transition.
//
// HTTP: POST /api/referral/rate
// A caller with no referrer gets success:true with no counter fields —
// the no-op case. A referrer code that doesn't resolve is surfaced as an
// error (data-integrity anomaly), not papered over.
func (h *ReferralHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid JSON body",
		})
		return
	}

	callerID, _ := auth.UserIDFromContext(r.Context())

	update, err := h.svc.UpdateActiveRate(r.Context(), callerID, req.IsMining)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := rateResponse{Success: true}
	if update != nil {
		resp.NewActiveReferrals = &update.ActiveReferrals
		resp.NewMiningRate = &update.MiningRate
	}
	writeJSON(w, http.StatusOK, resp)
}
