// Package db is the SQLite backend: track state, cooldowns, dedupe guards,
// per-camera calibration and the violation log, with the schema managed by
// embedded golang-migrate migrations.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/speedwatch/internal/state"
	"github.com/banshee-data/speedwatch/internal/timeutil"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

type DB struct {
	*sql.DB

	path     string
	clock    timeutil.Clock
	stateTTL time.Duration
}

// Option configures a DB.
type Option func(*DB)

// WithClock sets the clock used for expiry.
func WithClock(c timeutil.Clock) Option {
	return func(db *DB) { db.clock = c }
}

// WithStateTTL sets the sliding expiry of track state.
func WithStateTTL(d time.Duration) Option {
	return func(db *DB) {
		if d > 0 {
			db.stateTTL = d
		}
	}
}

// OpenDB opens the database and applies pragmas without touching the schema.
func OpenDB(path string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{DB: sqlDB, path: path, clock: timeutil.RealClock{}, stateTTL: state.DefaultStateTTL}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// NewDB opens the database and migrates it to the latest schema.
func NewDB(path string, opts ...Option) (*DB, error) {
	db, err := OpenDB(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) nowMs() int64 {
	return timeutil.UnixMs(db.clock)
}
