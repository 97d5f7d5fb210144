// Package sweeper terminates mining sessions that have exceeded the
// allowed duration.
//
// The sweep is stateless across runs and safe to overlap with itself:
// every expiry is a conditional write (isMining must still be true at
// write time), so when two passes race, the second degrades to a no-op —
// no double notification, no double referrer decrement downstream.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/stela-network/stela-backend/internal/model"
	"github.com/stela-network/stela-backend/internal/notifier"
	"github.com/stela-network/stela-backend/internal/repository"
	"github.com/stela-network/stela-backend/internal/service"
)

// SessionDuration is the fixed length of a mining session. Sessions older
// than this are expired by the next sweep.
const SessionDuration = 24 * time.Hour

// RateUpdater is what the sweeper needs from the referral service: the
// same referrer counter adjustment a user-invoked stop performs. Declared
// here so tests can substitute a mock.
type RateUpdater interface {
	UpdateActiveRate(ctx context.Context, userID string, isMining bool) (*service.RateUpdate, error)
}

// Sweeper scans active sessions on a fixed interval.
type Sweeper struct {
	repo     repository.UserRepository
	rates    RateUpdater
	notifier notifier.Notifier
	logger   *slog.Logger
	now      func() time.Time // injectable clock for tests
}

func New(repo repository.UserRepository, rates RateUpdater, n notifier.Notifier, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		repo:     repo,
		rates:    rates,
		notifier: n,
		logger:   logger,
		now:      time.Now,
	}
}

// Schedule registers the sweep on a cron runner at the given interval and
// starts it. The returned cron is stopped by the caller on shutdown.
func (s *Sweeper) Schedule(interval time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc("@every "+interval.String(), func() {
		s.Run(context.Background())
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	s.logger.Info("session sweeper scheduled", slog.Duration("interval", interval))
	return c, nil
}

// Run executes one sweep and returns the number of sessions it expired.
//
// Per user: a session with no recorded start time is never considered
// expired (not-yet-properly-started; skip, don't flip). An expired one is
// transitioned exactly once via the conditional write; the referrer's
// active-referral counter is then decremented and the stage-1 "session
// ended" notification attempted. Delivery failures are contained per
// user: an invalid target clears the stored token, a transient failure
// just leaves the stage unsent.
func (s *Sweeper) Run(ctx context.Context) int {
	users, err := s.repo.ListMining(ctx)
	if err != nil {
		s.logger.Error("sweep failed to list mining sessions", slog.String("error", err.Error()))
		return 0
	}

	now := s.now()
	expired := 0

	for i := range users {
		user := &users[i]

		if user.SessionStartTime == nil {
			continue
		}
		if now.Sub(*user.SessionStartTime) <= SessionDuration {
			continue
		}

		ok, err := s.repo.ExpireSession(ctx, user.ID, now)
		if err != nil {
			s.logger.Error("failed to expire session",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			// Another pass or the user stopped it first.
			continue
		}
		expired++

		// The expired user is no longer mining, so their referrer's
		// counter comes down exactly as it would on a user-invoked stop.
		// Winning the conditional write above guarantees this runs once
		// per session; a failure is logged and the sweep moves on.
		if _, err := s.rates.UpdateActiveRate(ctx, user.ID, false); err != nil {
			s.logger.Error("referrer adjustment failed for expired session",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}

		if user.FCMToken == "" {
			continue
		}
		s.notifyEnded(ctx, user, now)
	}

	s.logger.Info("sweep completed",
		slog.Int("scanned", len(users)),
		slog.Int("expired", expired),
	)
	return expired
}

// notifyEnded fires the stage-1 end-of-session notification and records
// the stage on success.
func (s *Sweeper) notifyEnded(ctx context.Context, user *model.UserRecord, now time.Time) {
	err := s.notifier.Send(ctx, notifier.Message{
		Target: user.FCMToken,
		Title:  "STC Mining Session Ended",
		Body:   "Your mining session has ended. Come back and start a new session!",
		Data: map[string]string{
			"type":      "MINING_SESSION_END",
			"sessionId": user.ID,
			"timestamp": strconv.FormatInt(now.UnixMilli(), 10),
		},
	})

	switch {
	case err == nil:
		if err := s.repo.SetNotificationStage(ctx, user.ID, model.StageEnded); err != nil {
			s.logger.Error("failed to record notification stage",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	case errors.Is(err, notifier.ErrInvalidTarget):
		// Cleanup side effect, not a sweep failure.
		if err := s.repo.ClearFCMToken(ctx, user.ID); err != nil {
			s.logger.Error("failed to clear invalid fcm token",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	default:
		s.logger.Warn("session-ended notification failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
}
