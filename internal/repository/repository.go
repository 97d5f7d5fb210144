package repository

import (
	"context"
	"time"

	"github.com/stela-network/stela-backend/internal/model"
)

// UserRepository is the storage contract for user records.
//
// Methods that mutate more than one field — or more than one record — are
// single transactions in the implementation. That is the whole consistency
// story of this engine: callers may be concurrent and distributed, so
// there are no in-process locks; every cross-field guarantee is expressed
// as one atomic read-modify-write against the store.
type UserRepository interface {
	Create(ctx context.Context, user *model.UserRecord) error
	GetByID(ctx context.Context, id string) (*model.UserRecord, error)
	GetByReferralCode(ctx context.Context, code string) (*model.UserRecord, error)

	// AttachReferral performs the one-shot attach-and-bonus as a single
	// transaction across both records: re-checks the caller's referredBy
	// and own code inside the transaction, sets referredBy, credits the
	// bonus, and bumps the referrer's totalReferrals. Returns
	// apperror.ErrAlreadyReferred / ErrSelfReferral / ErrNotFound as
	// normal outcomes; any of them leaves both records untouched.
	AttachReferral(ctx context.Context, userID, referrerID, code string, bonus float64) error

	// AdjustActiveReferrals atomically adds delta to the referrer's
	// activeReferrals (floored at zero) and recomputes miningRate in the
	// same transaction. Returns the new counter and rate.
	AdjustActiveReferrals(ctx context.Context, referrerID string, delta int) (int, float64, error)

	// StartSession flips the user into mining state, stamps
	// sessionStartTime, and resets the notification stage. Conditional on
	// isMining being false; a retried start reports started=false and
	// changes nothing.
	StartSession(ctx context.Context, userID string, now time.Time) (started bool, err error)

	// StopSession is the user-invoked stop. Conditional on isMining still
	// being true; a double stop reports stopped=false and changes nothing.
	StopSession(ctx context.Context, userID string, now time.Time) (stopped bool, err error)

	// ExpireSession is the sweeper's stop. Same conditional write as
	// StopSession but additionally resets the notification stage, so an
	// overlapping sweep degrades to a no-op on the second pass.
	ExpireSession(ctx context.Context, userID string, now time.Time) (expired bool, err error)

	SetNotificationStage(ctx context.Context, userID string, stage model.NotificationStage) error
	ClearFCMToken(ctx context.Context, userID string) error
	TouchAppActivity(ctx context.Context, userID string, now time.Time) error

	// ListMining returns every record with isMining == true.
	ListMining(ctx context.Context) ([]model.UserRecord, error)

	// ListTeam returns every record whose referredBy equals the code.
	ListTeam(ctx context.Context, referralCode string) ([]model.UserRecord, error)
}
