package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stela-network/stela-backend/internal/apperror"
	"github.com/stela-network/stela-backend/internal/model"
	"github.com/stela-network/stela-backend/internal/notifier"
)

// memRepo is an in-memory repository.UserRepository for service tests.
// It mirrors the store's transactional semantics (exactly-once attach,
// floored counters, conditional session writes) without a database.
type memRepo struct {
	users map[string]*model.UserRecord

	// recorded side effects
	clearedTokens []string
	stages        map[string]model.NotificationStage

	// optional error injections
	adjustErr error
	touchErr  error
}

func newMemRepo(users ...*model.UserRecord) *memRepo {
	r := &memRepo{
		users:  make(map[string]*model.UserRecord),
		stages: make(map[string]model.NotificationStage),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memRepo) Create(_ context.Context, user *model.UserRecord) error {
	if _, ok := r.users[user.ID]; ok {
		return apperror.Conflict("user", user.ID)
	}
	if user.BaseMiningRate == 0 {
		user.BaseMiningRate = model.DefaultBaseMiningRate
		user.MiningRate = model.DefaultBaseMiningRate
	}
	r.users[user.ID] = user
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*model.UserRecord, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (r *memRepo) GetByReferralCode(_ context.Context, code string) (*model.UserRecord, error) {
	for _, u := range r.users {
		if u.ReferralCode == code {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFoundMsg("Invalid referral code")
}

func (r *memRepo) AttachReferral(_ context.Context, userID, referrerID, code string, bonus float64) error {
	user, ok := r.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	if user.ReferralCode == code {
		return apperror.SelfReferral()
	}
	if user.ReferredBy != "" {
		return apperror.AlreadyReferred(user.ReferredBy)
	}
	referrer, ok := r.users[referrerID]
	if !ok {
		return apperror.NotFound("referrer", referrerID)
	}
	user.ReferredBy = code
	user.Balance += bonus
	referrer.TotalReferrals++
	now := time.Now()
	referrer.LastMemberJoined = &now
	return nil
}

func (r *memRepo) AdjustActiveReferrals(_ context.Context, referrerID string, delta int) (int, float64, error) {
	if r.adjustErr != nil {
		return 0, 0, r.adjustErr
	}
	referrer, ok := r.users[referrerID]
	if !ok {
		return 0, 0, apperror.NotFound("referrer", referrerID)
	}
	referrer.ActiveReferrals += delta
	if referrer.ActiveReferrals < 0 {
		referrer.ActiveReferrals = 0
	}
	referrer.MiningRate = model.DeriveMiningRate(referrer.BaseMiningRate, referrer.ActiveReferrals)
	return referrer.ActiveReferrals, referrer.MiningRate, nil
}

func (r *memRepo) StartSession(_ context.Context, userID string, now time.Time) (bool, error) {
	user, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	if user.IsMining {
		return false, nil
	}
	user.IsMining = true
	start := now
	user.SessionStartTime = &start
	update := now
	user.LastMiningUpdate = &update
	user.NotificationSent1 = false
	user.NotificationSent2 = false
	user.NotificationSent3 = false
	user.NotificationSent4 = false
	return true, nil
}

func (r *memRepo) StopSession(_ context.Context, userID string, now time.Time) (bool, error) {
	user, ok := r.users[userID]
	if !ok {
		return false, apperror.NotFound("user", userID)
	}
	if !user.IsMining {
		return false, nil
	}
	user.IsMining = false
	stop := now
	user.LastMiningStopTime = &stop
	return true, nil
}

func (r *memRepo) ExpireSession(ctx context.Context, userID string, now time.Time) (bool, error) {
	return r.StopSession(ctx, userID, now)
}

func (r *memRepo) SetNotificationStage(_ context.Context, userID string, stage model.NotificationStage) error {
	r.stages[userID] = stage
	return nil
}

func (r *memRepo) ClearFCMToken(_ context.Context, userID string) error {
	if user, ok := r.users[userID]; ok {
		user.FCMToken = ""
	}
	r.clearedTokens = append(r.clearedTokens, userID)
	return nil
}

func (r *memRepo) TouchAppActivity(_ context.Context, userID string, now time.Time) error {
	if r.touchErr != nil {
		return r.touchErr
	}
	user, ok := r.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	touched := now
	user.LastAppActivity = &touched
	return nil
}

func (r *memRepo) ListMining(_ context.Context) ([]model.UserRecord, error) {
	var out []model.UserRecord
	for _, u := range r.users {
		if u.IsMining {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (r *memRepo) ListTeam(_ context.Context, referralCode string) ([]model.UserRecord, error) {
	var out []model.UserRecord
	for _, u := range r.users {
		if u.ReferredBy == referralCode {
			out = append(out, *u)
		}
	}
	return out, nil
}

// fakeNotifier records deliveries and can be told to fail.
type fakeNotifier struct {
	sent []notifier.Message
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, msg notifier.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
