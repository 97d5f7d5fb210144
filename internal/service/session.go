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

// SessionService handles user-invoked mining session transitions.
//
// The session flip itself is a single-record conditional write. The
// referrer rate adjustment is deliberately a FOLLOW-UP step, not part of
// that write — it targets a different record and has its own transaction
// (see ReferralService.UpdateActiveRate). A failed follow-up is logged
// and does not undo the flip.
type SessionService struct {
	repo      repository.UserRepository
	referrals *ReferralService
	notifier  notifier.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewSessionService(
	repo repository.UserRepository,
	referrals *ReferralService,
	n notifier.Notifier,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		repo:      repo,
		referrals: referrals,
		notifier:  n,
		logger:    logger,
		now:       time.Now,
	}
}

// Start begins a new mining session for the caller. The notification
// stage resets with the new session; the referrer's active-referral
// counter is bumped as a follow-up. A start while already mining is a
// harmless no-op that reports the current record — the follow-up only
// fires on an actual transition, so a client retry cannot count the same
// miner twice.
func (s *SessionService) Start(ctx context.Context, callerID string) (*model.UserRecord, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated()
	}

	started, err := s.repo.StartSession(ctx, callerID, s.now())
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}

	if !started {
		return user, nil
	}

	s.logger.Info("mining session started", slog.String("userID", callerID))
	s.followUpRate(ctx, callerID, true)

	return user, nil
}

// Stop ends the caller's mining session. A stop after the sweeper already
// expired the session is a harmless no-op that still reports the current
// record. On an actual stop, the original app's immediate "session ended"
// notification fires best-effort.
func (s *SessionService) Stop(ctx context.Context, callerID string) (*model.UserRecord, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated()
	}

	stopped, err := s.repo.StopSession(ctx, callerID, s.now())
	if err != nil {
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}

	if !stopped {
		return user, nil
	}

	s.logger.Info("mining session stopped", slog.String("userID", callerID))
	s.followUpRate(ctx, callerID, false)

	if user.FCMToken != "" {
		err := s.notifier.Send(ctx, notifier.Message{
			Target: user.FCMToken,
			Title:  "STC Mining Session Ended",
			Body:   "Your mining session has ended. Come back and start a new session!",
			Data: map[string]string{
				"type":      "MINING_SESSION_END",
				"sessionId": callerID,
				"timestamp": strconv.FormatInt(s.now().UnixMilli(), 10),
			},
		})
		switch {
		case errors.Is(err, notifier.ErrInvalidTarget):
			if clearErr := s.repo.ClearFCMToken(ctx, callerID); clearErr != nil {
				s.logger.Error("failed to clear invalid fcm token",
					slog.String("userID", callerID),
					slog.String("error", clearErr.Error()),
				)
			}
		case err != nil:
			s.logger.Warn("session-ended notification failed",
				slog.String("userID", callerID),
				slog.String("error", err.Error()),
			)
		}
	}

	return user, nil
}

// TouchActivity records client app activity for the caller. Feeds the
// team prober's inactivity classification, nothing else.
func (s *SessionService) TouchActivity(ctx context.Context, callerID string) error {
	if callerID == "" {
		return apperror.Unauthenticated()
	}
	return s.repo.TouchAppActivity(ctx, callerID, s.now())
}

// followUpRate runs the referrer counter adjustment after a mining
// transition. Failures are logged, not propagated — the session flip has
// already committed and must not appear to fail.
func (s *SessionService) followUpRate(ctx context.Context, callerID string, isMining bool) {
	if _, err := s.referrals.UpdateActiveRate(ctx, callerID, isMining); err != nil {
		s.logger.Error("active-referral follow-up failed",
			slog.String("userID", callerID),
			slog.Bool("isMining", isMining),
			slog.String("error", err.Error()),
		)
	}
}
