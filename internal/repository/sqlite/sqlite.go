// Package sqlite implements the user repository on an embedded SQLite
// database via the pure-Go modernc.org/sqlite driver.
//
// WHY SQLITE FOR THIS ENGINE?
// The attach-and-bonus flow must commit two record mutations atomically
// (the caller's referredBy+balance and the referrer's counter). SQLite
// transactions span arbitrarily many rows, so the engine gets real
// multi-document atomic commit and never needs the idempotency-marker
// fallback that single-document stores would force.
//
// WAL mode keeps reads concurrent with the sweeper's writes; the busy
// timeout makes concurrent transactions queue instead of failing fast,
// which is what serialises racing attach calls for the same user.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DB wraps a sql.DB connection pool and implements
// repository.UserRepository.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
// Use ":memory:" for tests.
func New(dbPath string) (*DB, error) {
	dsn := dbPath
	if dbPath != ":memory:" && !strings.Contains(dbPath, "?") {
		// Start every transaction with the write lock held. With the
		// default deferred locking two racing attach transactions both
		// read, then the loser's write upgrade fails with SQLITE_BUSY;
		// immediate locking makes the loser block on BEGIN instead and
		// read the winner's committed row.
		dsn += "?_txlock=immediate"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database exists per connection; cap the pool at one so
	// every query (and every test goroutine) sees the same schema. The
	// single connection also serialises transactions, standing in for the
	// immediate locking used on file-backed databases.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool. Always defer this next to New.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the users table.
//
// referral_code carries a UNIQUE index — lookups by code must be
// unambiguous, and a duplicate is a store-integrity error, not a case the
// engine handles gracefully. The index on referred_by backs the team scan.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                    TEXT PRIMARY KEY,
			email                 TEXT NOT NULL DEFAULT '',
			referral_code         TEXT NOT NULL UNIQUE,
			referred_by           TEXT NOT NULL DEFAULT '',
			balance               REAL NOT NULL DEFAULT 0,
			is_mining             INTEGER NOT NULL DEFAULT 0,
			session_start_time    DATETIME,
			last_mining_stop_time DATETIME,
			last_mining_update    DATETIME,
			last_app_activity     DATETIME,
			active_referrals      INTEGER NOT NULL DEFAULT 0,
			base_mining_rate      REAL NOT NULL DEFAULT 0.20,
			mining_rate           REAL NOT NULL DEFAULT 0.20,
			notification_sent1    INTEGER NOT NULL DEFAULT 0,
			notification_sent2    INTEGER NOT NULL DEFAULT 0,
			notification_sent3    INTEGER NOT NULL DEFAULT 0,
			notification_sent4    INTEGER NOT NULL DEFAULT 0,
			fcm_token             TEXT NOT NULL DEFAULT '',
			total_referrals       INTEGER NOT NULL DEFAULT 0,
			last_member_joined    DATETIME,
			created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users(referred_by);
		CREATE INDEX IF NOT EXISTS idx_users_is_mining ON users(is_mining);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}
	return nil
}

// timePtr converts a scanned NullTime back to the model's pointer form.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
