package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/stela-network/stela-backend/internal/apperror"
	"github.com/stela-network/stela-backend/internal/model"
	"github.com/stela-network/stela-backend/internal/notifier"
	"github.com/stela-network/stela-backend/internal/repository"
)

// Inactivity thresholds. A team member is inactive iff they are not
// mining AND (their last mining update is older than MiningRecency OR
// their last app activity is older than AppActivityRecency). A missing
// timestamp counts as inactive for its clause.
const (
	MiningRecency      = 24 * time.Hour
	AppActivityRecency = 7 * 24 * time.Hour
)

// Per-member outcomes of a team ping.
const (
	PingStatusPinged        = "pinged"
	PingStatusFailed        = "failed"
	PingStatusNoToken       = "no_token"
	PingStatusAlreadyActive = "already_active"
)

// TeamService scans a referrer's downstream team and nudges inactive
// members.
type TeamService struct {
	repo     repository.UserRepository
	notifier notifier.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewTeamService(repo repository.UserRepository, n notifier.Notifier, logger *slog.Logger) *TeamService {
	return &TeamService{
		repo:     repo,
		notifier: n,
		logger:   logger,
		now:      time.Now,
	}
}

// MemberPing is the per-member outcome of a team ping.
type MemberPing struct {
	Member string `json:"member"` // email when present, else user id
	Status string `json:"status"`
}

// TeamPingResult aggregates one PingInactive run.
type TeamPingResult struct {
	PingedCount  int          `json:"pingedCount"`
	TotalMembers int          `json:"totalMembers"`
	Results      []MemberPing `json:"results"`
}

// PingInactive finds everyone referred by the caller, classifies each
// member, and best-effort notifies the inactive ones that have a delivery
// target.
//
// Individual delivery failures never abort the batch — each member gets a
// recorded outcome and the loop moves on. The operation as a whole fails
// only if the caller's own record or referral code cannot be resolved.
func (s *TeamService) PingInactive(ctx context.Context, callerID string) (*TeamPingResult, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated()
	}

	caller, err := s.repo.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if caller.ReferralCode == "" {
		return nil, apperror.ValidationFailed("referralCode", "caller has no referral code")
	}

	members, err := s.repo.ListTeam(ctx, caller.ReferralCode)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &TeamPingResult{
		TotalMembers: len(members),
		Results:      make([]MemberPing, 0, len(members)),
	}

	for i := range members {
		member := &members[i]
		outcome := MemberPing{Member: memberLabel(member)}

		switch {
		case !s.isInactive(member, now):
			outcome.Status = PingStatusAlreadyActive
		case member.FCMToken == "":
			outcome.Status = PingStatusNoToken
		default:
			outcome.Status = s.nudge(ctx, member, now)
		}

		if outcome.Status == PingStatusPinged {
			result.PingedCount++
		}
		result.Results = append(result.Results, outcome)
	}

	s.logger.Info("team ping completed",
		slog.String("userID", callerID),
		slog.Int("totalMembers", result.TotalMembers),
		slog.Int("pinged", result.PingedCount),
	)

	return result, nil
}

// isInactive applies the recency thresholds against now.
func (s *TeamService) isInactive(u *model.UserRecord, now time.Time) bool {
	if u.IsMining {
		return false
	}
	staleMining := u.LastMiningUpdate == nil || now.Sub(*u.LastMiningUpdate) > MiningRecency
	staleApp := u.LastAppActivity == nil || now.Sub(*u.LastAppActivity) > AppActivityRecency
	return staleMining || staleApp
}

// nudge attempts one delivery and returns the member's outcome status.
// An invalid target additionally clears the stored token.
func (s *TeamService) nudge(ctx context.Context, member *model.UserRecord, now time.Time) string {
	err := s.notifier.Send(ctx, notifier.Message{
		Target: member.FCMToken,
		Title:  "Don't forget to mine STC!",
		Body:   "Your team is waiting. Come back and start a new session!",
		Data: map[string]string{
			"type":      "TEAM_MINING_NUDGE",
			"userId":    member.ID,
			"timestamp": strconv.FormatInt(now.UnixMilli(), 10),
		},
	})
	if err == nil {
		return PingStatusPinged
	}

	if errors.Is(err, notifier.ErrInvalidTarget) {
		if clearErr := s.repo.ClearFCMToken(ctx, member.ID); clearErr != nil {
			s.logger.Error("failed to clear invalid fcm token",
				slog.String("userID", member.ID),
				slog.String("error", clearErr.Error()),
			)
		}
	}

	s.logger.Warn("team nudge failed",
		slog.String("userID", member.ID),
		slog.String("error", err.Error()),
	)
	return PingStatusFailed
}

func memberLabel(u *model.UserRecord) string {
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
