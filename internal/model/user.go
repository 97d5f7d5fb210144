// Package model defines the data structures used throughout the application.
package model

import (
	"math"
	"time"
)

// Mining-rate policy. The rate a user earns at is always derived from the
// base rate plus a fixed increment per downstream referral that is
// currently mining:
//
//	miningRate = baseMiningRate + activeReferrals * RateIncrement
//
// The derivation lives here (not in the service) because the repository
// must recompute it inside the same transaction that adjusts the counter.
const (
	DefaultBaseMiningRate = 0.20 // currency units per period, set once at creation
	RateIncrement         = 0.20 // added per actively-mining referral
)

// UserRecord is the persisted document for one user.
//
// FIELD NAMES ARE A WIRE CONTRACT:
// The mobile client reads and writes the same records, so the JSON names
// (referralCode, referredBy, isMining, notificationSent1..4, ...) must not
// change. The db tags are internal to this backend and follow the usual
// snake_case column convention.
//
// Optional timestamps are pointers — nil means "never happened", which the
// inactivity classification and the sweeper both rely on (a session with no
// start time is never considered expired).
type UserRecord struct {
	ID                 string     `json:"id"                 db:"id"`
	Email              string     `json:"email"              db:"email"` // display/logging context only
	ReferralCode       string     `json:"referralCode"       db:"referral_code"`
	ReferredBy         string     `json:"referredBy"         db:"referred_by"` // set at most once, never cleared
	Balance            float64    `json:"balance"            db:"balance"`
	IsMining           bool       `json:"isMining"           db:"is_mining"`
	SessionStartTime   *time.Time `json:"sessionStartTime"   db:"session_start_time"`
	LastMiningStopTime *time.Time `json:"lastMiningStopTime" db:"last_mining_stop_time"`
	LastMiningUpdate   *time.Time `json:"lastMiningUpdate"   db:"last_mining_update"`
	LastAppActivity    *time.Time `json:"lastAppActivity"    db:"last_app_activity"`
	ActiveReferrals    int        `json:"activeReferrals"    db:"active_referrals"`
	BaseMiningRate     float64    `json:"baseMiningRate"     db:"base_mining_rate"`
	MiningRate         float64    `json:"miningRate"         db:"mining_rate"`
	NotificationSent1  bool       `json:"notificationSent1"  db:"notification_sent1"`
	NotificationSent2  bool       `json:"notificationSent2"  db:"notification_sent2"`
	NotificationSent3  bool       `json:"notificationSent3"  db:"notification_sent3"`
	NotificationSent4  bool       `json:"notificationSent4"  db:"notification_sent4"`
	FCMToken           string     `json:"fcmToken"           db:"fcm_token"` // may be absent or stale
	TotalReferrals     int        `json:"totalReferrals"     db:"total_referrals"`
	LastMemberJoined   *time.Time `json:"lastMemberJoined"   db:"last_member_joined"`
	CreatedAt          time.Time  `json:"createdAt"          db:"created_at"`
	UpdatedAt          time.Time  `json:"updatedAt"          db:"updated_at"`
}

// NotificationStage is the post-expiry reminder state of a session.
//
// The persisted contract keeps four independent booleans
// (notificationSent1..4) for client compatibility, but internally only two
// combinations are valid today: nothing sent, or the stage-1 "session
// ended" message sent. Modelling the stage as an enum keeps the invalid
// boolean combinations out of the engine; stages 2-4 are reserved slots.
type NotificationStage int

const (
	StageNone  NotificationStage = iota // no reminder delivered for this session
	StageEnded                          // stage 1: session-ended message delivered
)

// Stage reports the reminder stage encoded by the notification flags.
func (u *UserRecord) Stage() NotificationStage {
	if u.NotificationSent1 {
		return StageEnded
	}
	return StageNone
}

// DeriveMiningRate computes the earning rate for a referrer with the given
// number of actively-mining referrals.
//
// The arithmetic is done in hundredths and rounded back, so a base of 0.20
// with 3 active referrals yields exactly 0.80 rather than a float64
// artefact like 0.8000000000000001 — the client displays this value
// directly and compares it against its own computation.
func DeriveMiningRate(base float64, activeReferrals int) float64 {
	hundredths := math.Round(base*100) + math.Round(RateIncrement*100)*float64(activeReferrals)
	return hundredths / 100
}
