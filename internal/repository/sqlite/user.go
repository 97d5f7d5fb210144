package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/stela-network/stela-backend/internal/apperror"
	"github.com/stela-network/stela-backend/internal/model"
	"github.com/stela-network/stela-backend/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// userColumns is the canonical SELECT list. Keep in sync with scanUser.
const userColumns = `id, email, referral_code, referred_by, balance, is_mining,
	session_start_time, last_mining_stop_time, last_mining_update, last_app_activity,
	active_referrals, base_mining_rate, mining_rate,
	notification_sent1, notification_sent2, notification_sent3, notification_sent4,
	fcm_token, total_referrals, last_member_joined, created_at, updated_at`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.UserRecord, error) {
	var (
		u                             model.UserRecord
		start, stop, update, activity sql.NullTime
		joined                        sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.ReferralCode, &u.ReferredBy, &u.Balance, &u.IsMining,
		&start, &stop, &update, &activity,
		&u.ActiveReferrals, &u.BaseMiningRate, &u.MiningRate,
		&u.NotificationSent1, &u.NotificationSent2, &u.NotificationSent3, &u.NotificationSent4,
		&u.FCMToken, &u.TotalReferrals, &joined, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.SessionStartTime = timePtr(start)
	u.LastMiningStopTime = timePtr(stop)
	u.LastMiningUpdate = timePtr(update)
	u.LastAppActivity = timePtr(activity)
	u.LastMemberJoined = timePtr(joined)
	return &u, nil
}

// newReferralCode derives an 8-character upper-case code from an xid.
// The tail of an xid is its random + counter portion, so codes from the
// same process never repeat; the UNIQUE index catches the cross-process
// remainder and Create retries.
func newReferralCode() string {
	id := xid.New().String()
	return strings.ToUpper(id[len(id)-8:])
}

// Create inserts a new user record.
//
// The ID is the verified identity from the auth layer, so it is required.
// The referral code is assigned here, at creation, and is immutable from
// then on. referredBy starts empty — the attach transaction is the only
// writer of that field.
func (db *DB) Create(ctx context.Context, user *model.UserRecord) error {
	if user.ID == "" {
		return apperror.ValidationFailed("id", "user ID is required")
	}
	if user.BaseMiningRate == 0 {
		user.BaseMiningRate = model.DefaultBaseMiningRate
	}
	user.MiningRate = model.DeriveMiningRate(user.BaseMiningRate, user.ActiveReferrals)

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	// Retry on the (vanishingly rare) referral-code collision.
	for attempt := 0; attempt < 3; attempt++ {
		if user.ReferralCode == "" {
			user.ReferralCode = newReferralCode()
		}

		_, err := db.conn.ExecContext(ctx,
			`INSERT INTO users (id, email, referral_code, referred_by, balance,
				base_mining_rate, mining_rate, fcm_token, created_at, updated_at)
			 VALUES (?, ?, ?, '', ?, ?, ?, ?, ?, ?)`,
			user.ID, user.Email, user.ReferralCode, user.Balance,
			user.BaseMiningRate, user.MiningRate, user.FCMToken,
			user.CreatedAt, user.UpdatedAt,
		)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.referral_code") {
			user.ReferralCode = "" // regenerate and retry
			continue
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.id") {
			return apperror.Conflict("user", user.ID)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.ID, err)
	}
	return fmt.Errorf("sqlite: could not assign a unique referral code for user %s", user.ID)
}

// GetByID retrieves a user by their identity key.
func (db *DB) GetByID(ctx context.Context, id string) (*model.UserRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetByReferralCode retrieves the user who owns the given (already
// normalized) referral code. The UNIQUE index guarantees at most one row.
func (db *DB) GetByReferralCode(ctx context.Context, code string) (*model.UserRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE referral_code = ?`, code)
	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFoundMsg("Invalid referral code")
		}
		return nil, fmt.Errorf("sqlite: getting user by referral code %s: %w", code, err)
	}
	return u, nil
}

// AttachReferral runs the attach-and-bonus as one transaction.
//
// The preconditions are re-checked on the row read INSIDE the transaction,
// not on whatever snapshot the service validated against. Two concurrent
// attach calls for the same user therefore serialise on this transaction
// and exactly one wins; the loser sees referred_by already set and gets
// ErrAlreadyReferred with no mutation. A crash cannot leave the bonus
// granted without the referrer's counter bumped (or vice versa) — both
// updates commit or neither does.
func (db *DB) AttachReferral(ctx context.Context, userID, referrerID, code string, bonus float64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.StoreTx("attach", err)
	}
	defer tx.Rollback()

	var ownCode, referredBy string
	err = tx.QueryRowContext(ctx,
		`SELECT referral_code, referred_by FROM users WHERE id = ?`, userID,
	).Scan(&ownCode, &referredBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return apperror.NotFound("user", userID)
		}
		return apperror.StoreTx("attach", err)
	}

	if ownCode == code {
		return apperror.SelfReferral()
	}
	if referredBy != "" {
		return apperror.AlreadyReferred(referredBy)
	}

	now := time.Now()

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET referred_by = ?, balance = balance + ?, updated_at = ?
		 WHERE id = ?`,
		code, bonus, now, userID,
	)
	if err != nil {
		return apperror.StoreTx("attach", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET total_referrals = total_referrals + 1,
			last_member_joined = ?, updated_at = ?
		 WHERE id = ?`,
		now, now, referrerID,
	)
	if err != nil {
		return apperror.StoreTx("attach", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Referrer vanished between validation and commit; abort the
		// whole attach rather than granting an unaccounted bonus.
		return apperror.NotFound("referrer", referrerID)
	}

	if err := tx.Commit(); err != nil {
		return apperror.StoreTx("attach", err)
	}
	return nil
}

// AdjustActiveReferrals applies delta to the referrer's active-referral
// counter, floored at zero, and recomputes the derived mining rate in the
// same transaction. A double stop or out-of-order call can never push the
// counter negative or desync the rate from the counter.
func (db *DB) AdjustActiveReferrals(ctx context.Context, referrerID string, delta int) (int, float64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, apperror.StoreTx("rate update", err)
	}
	defer tx.Rollback()

	var (
		count int
		base  float64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT active_referrals, base_mining_rate FROM users WHERE id = ?`, referrerID,
	).Scan(&count, &base)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, apperror.NotFound("referrer", referrerID)
		}
		return 0, 0, apperror.StoreTx("rate update", err)
	}

	count += delta
	if count < 0 {
		count = 0
	}
	rate := model.DeriveMiningRate(base, count)

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET active_referrals = ?, mining_rate = ?, updated_at = ?
		 WHERE id = ?`,
		count, rate, time.Now(), referrerID,
	)
	if err != nil {
		return 0, 0, apperror.StoreTx("rate update", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, apperror.StoreTx("rate update", err)
	}
	return count, rate, nil
}

// StartSession begins a mining session: flips isMining, stamps the start
// time, and resets the notification stage for the new session. The WHERE
// is_mining = 0 guard mirrors StopSession, so a client retry of start
// reports started=false and changes nothing — in particular it must not
// re-trigger the referrer's counter increment.
func (db *DB) StartSession(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET is_mining = 1, session_start_time = ?, last_mining_update = ?,
			notification_sent1 = 0, notification_sent2 = 0,
			notification_sent3 = 0, notification_sent4 = 0,
			updated_at = ?
		 WHERE id = ? AND is_mining = 0`,
		now, now, now, userID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: starting session for %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// StopSession is the user-invoked stop. The WHERE is_mining = 1 guard
// makes it a no-op if the sweeper (or a retry) already stopped the
// session.
func (db *DB) StopSession(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET is_mining = 0, last_mining_stop_time = ?, last_mining_update = ?,
			updated_at = ?
		 WHERE id = ? AND is_mining = 1`,
		now, now, now, userID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: stopping session for %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ExpireSession is the sweeper's stop: conditional on isMining still being
// true at write time, and additionally resets the notification stage so
// the post-expiry reminder cycle starts fresh. Returns false when another
// sweep pass (or the user) got there first.
func (db *DB) ExpireSession(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET is_mining = 0, last_mining_stop_time = ?, last_mining_update = ?,
			notification_sent1 = 0, notification_sent2 = 0,
			notification_sent3 = 0, notification_sent4 = 0,
			updated_at = ?
		 WHERE id = ? AND is_mining = 1`,
		now, now, now, userID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: expiring session for %s: %w", userID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetNotificationStage records which post-expiry reminder has fired.
// Only StageNone and StageEnded are producible today; the four persisted
// flags remain for client compatibility and future stages.
func (db *DB) SetNotificationStage(ctx context.Context, userID string, stage model.NotificationStage) error {
	sent1 := stage >= model.StageEnded
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET notification_sent1 = ?, updated_at = ? WHERE id = ?`,
		sent1, time.Now(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting notification stage for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ClearFCMToken removes a delivery target the notifier reported as
// permanently invalid.
func (db *DB) ClearFCMToken(ctx context.Context, userID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET fcm_token = '', updated_at = ? WHERE id = ?`,
		time.Now(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: clearing fcm token for %s: %w", userID, err)
	}
	return nil
}

// TouchAppActivity stamps the last observed client activity. Used only by
// the inactivity classification.
func (db *DB) TouchAppActivity(ctx context.Context, userID string, now time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET last_app_activity = ? WHERE id = ?`,
		now, userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touching app activity for %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ListMining returns all records with an active mining session.
func (db *DB) ListMining(ctx context.Context) ([]model.UserRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE is_mining = 1`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing mining users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListTeam returns all records referred by the given code.
func (db *DB) ListTeam(ctx context.Context, referralCode string) ([]model.UserRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE referred_by = ?`, referralCode)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing team for %s: %w", referralCode, err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]model.UserRecord, error) {
	users := []model.UserRecord{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}
	return users, nil
}
