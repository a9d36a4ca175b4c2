// Package store implements the local SQLite cache behind the sheets.
// The sheets remain the system of record; every table here is either
// scan-owned (replaced wholesale by a rescan) or dispatcher-owned
// (persists across rescans). All access goes through sessions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for mutations including timing and key parameters.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the campaign cache backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func Open(dbPath string, opts ...Option) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("store: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("store: opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS chat_users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			pref_name TEXT NOT NULL UNIQUE,
			pref_cry TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS fort_contributors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			sheet_row INTEGER NOT NULL UNIQUE,
			cry TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS um_contributors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sheet TEXT NOT NULL,
			name TEXT NOT NULL,
			sheet_row INTEGER NOT NULL,
			UNIQUE(sheet, sheet_row)
		)`,
		`CREATE TABLE IF NOT EXISTS fort_targets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			fort_status INTEGER NOT NULL DEFAULT 0,
			trig INTEGER NOT NULL,
			fort_override REAL NOT NULL DEFAULT 0,
			um_status INTEGER NOT NULL DEFAULT 0,
			undermine REAL NOT NULL DEFAULT 0,
			distance REAL NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			sheet_col TEXT NOT NULL UNIQUE,
			sheet_order INTEGER NOT NULL,
			manual_order INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS um_targets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sheet TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			sheet_col TEXT NOT NULL,
			goal INTEGER NOT NULL DEFAULT 0,
			security TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			close_control TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT '',
			progress_us INTEGER NOT NULL DEFAULT 0,
			progress_them REAL NOT NULL DEFAULT 0,
			map_offset INTEGER NOT NULL DEFAULT 0,
			expansion_trigger INTEGER NOT NULL DEFAULT 0,
			UNIQUE(sheet, sheet_col),
			UNIQUE(sheet, name)
		)`,
		`CREATE TABLE IF NOT EXISTS fort_contributions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contributor_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			amount INTEGER NOT NULL DEFAULT 0,
			UNIQUE(contributor_id, target_id)
		)`,
		`CREATE TABLE IF NOT EXISTS um_contributions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sheet TEXT NOT NULL,
			contributor_id INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			held INTEGER NOT NULL DEFAULT 0,
			redeemed INTEGER NOT NULL DEFAULT 0,
			UNIQUE(sheet, contributor_id, target_id)
		)`,
		`CREATE TABLE IF NOT EXISTS fort_order (
			ordinal INTEGER PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS admins (
			user_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS perms_channel (
			cmd TEXT NOT NULL,
			guild TEXT NOT NULL,
			channel TEXT NOT NULL,
			PRIMARY KEY(cmd, guild, channel)
		)`,
		`CREATE TABLE IF NOT EXISTS perms_role (
			cmd TEXT NOT NULL,
			guild TEXT NOT NULL,
			role TEXT NOT NULL,
			PRIMARY KEY(cmd, guild, role)
		)`,
		`CREATE TABLE IF NOT EXISTS kos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cmdr TEXT NOT NULL UNIQUE COLLATE NOCASE,
			squad TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			friendly INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_systems (
			name TEXT PRIMARY KEY COLLATE NOCASE,
			distance_ly REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tracked_cached (
			name TEXT PRIMARY KEY COLLATE NOCASE,
			overlaps_with TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS carriers (
			id TEXT PRIMARY KEY,
			squad TEXT NOT NULL DEFAULT '',
			system TEXT NOT NULL DEFAULT '',
			prev_system TEXT NOT NULL DEFAULT '',
			override INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spy_systems (
			name TEXT PRIMARY KEY COLLATE NOCASE,
			power TEXT NOT NULL DEFAULT '',
			fort INTEGER NOT NULL DEFAULT 0,
			fort_trig INTEGER NOT NULL DEFAULT 0,
			um INTEGER NOT NULL DEFAULT 0,
			um_trig INTEGER NOT NULL DEFAULT 0,
			income INTEGER NOT NULL DEFAULT 0,
			upkeep INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spy_votes (
			power TEXT PRIMARY KEY,
			vote INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spy_preps (
			system TEXT NOT NULL COLLATE NOCASE,
			power TEXT NOT NULL,
			merits INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY(system, power)
		)`,
		`CREATE TABLE IF NOT EXISTS spy_traffic (
			system TEXT PRIMARY KEY COLLATE NOCASE,
			day INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS spy_bounties (
			system TEXT NOT NULL COLLATE NOCASE,
			pos INTEGER NOT NULL,
			cmdr TEXT NOT NULL DEFAULT '',
			ship TEXT NOT NULL DEFAULT '',
			bounty INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY(system, pos)
		)`,
		`CREATE TABLE IF NOT EXISTS recruits (
			name TEXT PRIMARY KEY COLLATE NOCASE,
			sheet_row INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS globals (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			cycle INTEGER NOT NULL DEFAULT 0,
			consolidation INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_fort_contrib_target ON fort_contributions(target_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_um_contrib_target ON um_contributions(target_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_fort_targets_order ON fort_targets(sheet_order)`)

	s.logger.Info("store: init completed", "duration", time.Since(start))
	return nil
}

// scanOwned lists the tables a full rescan is allowed to replace.
var scanOwned = []string{
	"fort_contributions",
	"um_contributions",
	"fort_contributors",
	"um_contributors",
	"fort_targets",
	"um_targets",
	"kos",
	"recruits",
}

// permanent lists the dispatcher-owned tables that survive rescans.
var permanent = []string{
	"fort_order",
	"admins",
	"perms_channel",
	"perms_role",
	"tracked_systems",
	"tracked_cached",
	"carriers",
	"spy_systems",
	"spy_votes",
	"spy_preps",
	"spy_traffic",
	"spy_bounties",
	"globals",
	"chat_users",
}

// EmptyTables drops all scan-owned rows, and the dispatcher-owned rows too
// when includePermanent is set.
func (s *Session) EmptyTables(ctx context.Context, includePermanent bool) error {
	tables := scanOwned
	if includePermanent {
		tables = append(append([]string{}, scanOwned...), permanent...)
	}
	for _, t := range tables {
		if _, err := s.tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("empty %s: %w", t, err)
		}
	}
	return nil
}

// DB returns the underlying *sql.DB for read-only maintenance queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("store: closing")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("store: close failed", "error", err)
	}
	return err
}

// isUniqueViolation reports a SQLite unique-constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
