// Package service contains the business logic of the referral and
// session-lifecycle engine.
//
// The layering follows the usual shape:
//
//	Handler (HTTP)     → parses requests, writes the structured responses
//	Service (rules)    → validation, orchestration, policy constants
//	Repository (store) → atomic reads/writes against SQLite
//
// Race-sensitive checks do NOT live here. The service validates against a
// snapshot for early, friendly failures, but the binding re-check happens
// inside the repository's transaction — that is what makes attach
// exactly-once under concurrent duplicate calls.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stela-network/stela-backend/internal/apperror"
	"github.com/stela-network/stela-backend/internal/model"
	"github.com/stela-network/stela-backend/internal/repository"
)

// ReferralBonus is the fixed one-time bonus credited to a newly attached
// user. Not tiered; granted exactly once, co-transactionally with setting
// referredBy.
const ReferralBonus = 10.0

// ReferralService handles referral-code validation, the attach-and-bonus
// flow, and active-referral rate updates.
type ReferralService struct {
	repo   repository.UserRepository
	logger *slog.Logger
}

func NewReferralService(repo repository.UserRepository, logger *slog.Logger) *ReferralService {
	return &ReferralService{
		repo:   repo,
		logger: logger,
	}
}

// NormalizeCode canonicalises a referral code for comparison and storage:
// codes are compared case-insensitively and stored upper-case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AttachResult is returned by a successful Attach.
type AttachResult struct {
	BonusApplied float64
	ReferralCode string // the normalized code that was recorded
}

// RateUpdate is returned by UpdateActiveRate when a referrer was found
// and adjusted.
type RateUpdate struct {
	ActiveReferrals int
	MiningRate      float64
}

// ValidateCode checks a candidate referral code and returns the matched
// referrer on success. Performs no mutation.
//
// callerID may be empty — code validation can run pre-authentication, in
// which case the self-referral check is skipped.
func (s *ReferralService) ValidateCode(ctx context.Context, callerID, code string) (*model.UserRecord, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperror.ValidationFailed("referralCode", "Referral code is required")
	}

	referrer, err := s.repo.GetByReferralCode(ctx, code)
	if err != nil {
		return nil, err // NotFound carries "Invalid referral code"
	}

	if callerID != "" && referrer.ID == callerID {
		return nil, apperror.SelfReferral()
	}

	return referrer, nil
}

// Attach records which referrer brought in the caller and grants the
// one-time bonus, exactly once.
//
// The lookup and self-check here give fast failures; the repository then
// re-checks referredBy and the caller's own code inside the transaction
// that also writes both records. Re-invocation after a success is a no-op
// reporting ErrAlreadyReferred — never a duplicate bonus — so callers may
// retry freely on transient I/O failure.
func (s *ReferralService) Attach(ctx context.Context, callerID, code string) (*AttachResult, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated()
	}

	referrer, err := s.ValidateCode(ctx, callerID, code)
	if err != nil {
		return nil, err
	}
	normalized := NormalizeCode(code)

	if err := s.repo.AttachReferral(ctx, callerID, referrer.ID, normalized, ReferralBonus); err != nil {
		if errors.Is(err, apperror.ErrStoreTx) {
			s.logger.Error("attach transaction failed",
				slog.String("userID", callerID),
				slog.String("code", normalized),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	s.logger.Info("referral attached",
		slog.String("userID", callerID),
		slog.String("referrerID", referrer.ID),
		slog.String("code", normalized),
		slog.Float64("bonus", ReferralBonus),
	)

	return &AttachResult{
		BonusApplied: ReferralBonus,
		ReferralCode: normalized,
	}, nil
}

// UpdateActiveRate adjusts the caller's referrer when the caller's mining
// state transitions: +1 active referral on start, -1 (floored at zero) on
// stop, with the referrer's mining rate recomputed in the same store
// transaction.
//
// Returns (nil, nil) when the caller has no referrer — that is a success
// no-op, not an error. A referrer code that no longer resolves is a
// data-integrity anomaly: logged and surfaced, never fabricated around.
func (s *ReferralService) UpdateActiveRate(ctx context.Context, callerID string, isMining bool) (*RateUpdate, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated()
	}

	caller, err := s.repo.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if caller.ReferredBy == "" {
		return nil, nil
	}

	referrer, err := s.repo.GetByReferralCode(ctx, caller.ReferredBy)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("referrer code does not resolve",
				slog.String("userID", callerID),
				slog.String("referredBy", caller.ReferredBy),
			)
		}
		return nil, fmt.Errorf("resolving referrer %s: %w", caller.ReferredBy, err)
	}

	delta := -1
	if isMining {
		delta = 1
	}

	count, rate, err := s.repo.AdjustActiveReferrals(ctx, referrer.ID, delta)
	if err != nil {
		return nil, err
	}

	s.logger.Info("active referral rate updated",
		slog.String("referrerID", referrer.ID),
		slog.Int("activeReferrals", count),
		slog.Float64("miningRate", rate),
	)

	return &RateUpdate{
		ActiveReferrals: count,
		MiningRate:      rate,
	}, nil
}
