package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bastionbot/bastion"
)

// InsertKos replaces the kill-on-sight list during a scan. Commander
// names collide case-insensitively.
func (s *Session) InsertKos(ctx context.Context, entries []bastion.KosEntry) error {
	for _, e := range entries {
		if e.Cmdr == "" {
			return bastion.Validatef("kos.cmdr", "must not be empty")
		}
		_, err := s.tx.ExecContext(ctx,
			`INSERT INTO kos (cmdr, squad, reason, friendly) VALUES (?, ?, ?, ?)`,
			e.Cmdr, e.Squad, e.Reason, boolToInt(e.Friendly))
		if isUniqueViolation(err) {
			return &bastion.IntegrityError{Constraint: "kos.cmdr", Err: err}
		}
		if err != nil {
			return fmt.Errorf("insert kos: %w", err)
		}
	}
	return nil
}

// AddKos adds one reported commander between scans. A duplicate report
// is not an error; the first entry wins.
func (s *Session) AddKos(ctx context.Context, e bastion.KosEntry) (added bool, err error) {
	if e.Cmdr == "" {
		return false, bastion.Validatef("kos.cmdr", "must not be empty")
	}
	res, err := s.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO kos (cmdr, squad, reason, friendly) VALUES (?, ?, ?, ?)`,
		e.Cmdr, e.Squad, e.Reason, boolToInt(e.Friendly))
	if err != nil {
		return false, fmt.Errorf("add kos: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SearchKos returns entries whose commander or squad contains the needle,
// case-insensitively, commander ascending.
func (s *Session) SearchKos(ctx context.Context, needle string) ([]bastion.KosEntry, error) {
	pattern := "%" + strings.ToLower(needle) + "%"
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, cmdr, squad, reason, friendly FROM kos
		 WHERE LOWER(cmdr) LIKE ? OR LOWER(squad) LIKE ?
		 ORDER BY cmdr`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search kos: %w", err)
	}
	defer rows.Close()
	return collectKos(rows)
}

// KosEntries lists the whole table, commander ascending.
func (s *Session) KosEntries(ctx context.Context) ([]bastion.KosEntry, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, cmdr, squad, reason, friendly FROM kos ORDER BY cmdr`)
	if err != nil {
		return nil, fmt.Errorf("list kos: %w", err)
	}
	defer rows.Close()
	return collectKos(rows)
}

func collectKos(rows *sql.Rows) ([]bastion.KosEntry, error) {
	var out []bastion.KosEntry
	for rows.Next() {
		var e bastion.KosEntry
		var friendly int
		if err := rows.Scan(&e.ID, &e.Cmdr, &e.Squad, &e.Reason, &friendly); err != nil {
			return nil, fmt.Errorf("scan kos: %w", err)
		}
		e.Friendly = friendly != 0
		out = append(out, e)
	}
	return out, rows.Err()
}
