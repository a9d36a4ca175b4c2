package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bastionbot/bastion"
)

// EnsureUser inserts a ChatUser on first contact. Existing rows are left
// untouched so renames survive reconnects.
func (s *Session) EnsureUser(ctx context.Context, u bastion.ChatUser) error {
	if u.PrefName == "" {
		u.PrefName = u.DisplayName
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO chat_users (id, display_name, pref_name, pref_cry)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name`,
		u.ID, u.DisplayName, u.PrefName, u.PrefCry,
	)
	if isUniqueViolation(err) {
		// pref_name collision with another user: fall back to the raw id as
		// preferred name so first contact never fails.
		_, err = s.tx.ExecContext(ctx,
			`INSERT INTO chat_users (id, display_name, pref_name, pref_cry)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name`,
			u.ID, u.DisplayName, u.DisplayName+"#"+u.ID, u.PrefCry,
		)
	}
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// User returns a ChatUser by id.
func (s *Session) User(ctx context.Context, id string) (bastion.ChatUser, error) {
	var u bastion.ChatUser
	err := s.tx.QueryRowContext(ctx,
		`SELECT id, display_name, pref_name, pref_cry FROM chat_users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &u.PrefName, &u.PrefCry)
	if errors.Is(err, sql.ErrNoRows) {
		return u, &bastion.NoMatchError{Kind: "user", Needle: id}
	}
	if err != nil {
		return u, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UserByPrefName resolves a substring against preferred names.
func (s *Session) UserByPrefName(ctx context.Context, needle string) (bastion.ChatUser, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, display_name, pref_name, pref_cry FROM chat_users ORDER BY pref_name`)
	if err != nil {
		return bastion.ChatUser{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []bastion.ChatUser
	var names []string
	for rows.Next() {
		var u bastion.ChatUser
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.PrefName, &u.PrefCry); err != nil {
			return bastion.ChatUser{}, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
		names = append(names, u.PrefName)
	}
	if err := rows.Err(); err != nil {
		return bastion.ChatUser{}, err
	}
	i, err := pickMatch("user", needle, names)
	if err != nil {
		return bastion.ChatUser{}, err
	}
	return users[i], nil
}

// SetPrefName renames a user. Preferred names are unique; collisions come
// back as IntegrityError so the handler can tell the user.
func (s *Session) SetPrefName(ctx context.Context, userID, name string) error {
	if name == "" {
		return bastion.Validatef("pref_name", "must not be empty")
	}
	_, err := s.tx.ExecContext(ctx,
		`UPDATE chat_users SET pref_name = ? WHERE id = ?`, name, userID)
	if isUniqueViolation(err) {
		return &bastion.IntegrityError{Constraint: "chat_users.pref_name", Err: err}
	}
	if err != nil {
		return fmt.Errorf("set pref name: %w", err)
	}
	return nil
}

// SetPrefCry sets a user's battle cry.
func (s *Session) SetPrefCry(ctx context.Context, userID, cry string) error {
	_, err := s.tx.ExecContext(ctx,
		`UPDATE chat_users SET pref_cry = ? WHERE id = ?`, cry, userID)
	if err != nil {
		return fmt.Errorf("set pref cry: %w", err)
	}
	return nil
}

// --- Fort contributors (scan-owned) ---

// InsertFortContributors inserts parsed contributor rows during a scan.
func (s *Session) InsertFortContributors(ctx context.Context, contributors []bastion.FortContributor) error {
	for _, c := range contributors {
		_, err := s.tx.ExecContext(ctx,
			`INSERT INTO fort_contributors (name, sheet_row, cry) VALUES (?, ?, ?)`,
			c.Name, c.Row, c.Cry)
		if isUniqueViolation(err) {
			return &bastion.IntegrityError{Constraint: "fort_contributors.sheet_row", Err: err}
		}
		if err != nil {
			return fmt.Errorf("insert fort contributor: %w", err)
		}
	}
	return nil
}

// FortContributors returns all fort contributor rows ordered by sheet row.
func (s *Session) FortContributors(ctx context.Context) ([]bastion.FortContributor, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, name, sheet_row, cry FROM fort_contributors ORDER BY sheet_row`)
	if err != nil {
		return nil, fmt.Errorf("list fort contributors: %w", err)
	}
	defer rows.Close()

	var out []bastion.FortContributor
	for rows.Next() {
		var c bastion.FortContributor
		if err := rows.Scan(&c.ID, &c.Name, &c.Row, &c.Cry); err != nil {
			return nil, fmt.Errorf("scan fort contributor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FortContributorByName returns the contributor row matching a preferred
// name exactly.
func (s *Session) FortContributorByName(ctx context.Context, name string) (bastion.FortContributor, error) {
	var c bastion.FortContributor
	err := s.tx.QueryRowContext(ctx,
		`SELECT id, name, sheet_row, cry FROM fort_contributors WHERE name = ?`, name,
	).Scan(&c.ID, &c.Name, &c.Row, &c.Cry)
	if errors.Is(err, sql.ErrNoRows) {
		return c, &bastion.NoMatchError{Kind: "fort contributor", Needle: name}
	}
	if err != nil {
		return c, fmt.Errorf("get fort contributor: %w", err)
	}
	return c, nil
}

// AddFortContributor enrolls a new contributor at the given sheet row.
func (s *Session) AddFortContributor(ctx context.Context, c bastion.FortContributor) (int64, error) {
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO fort_contributors (name, sheet_row, cry) VALUES (?, ?, ?)`,
		c.Name, c.Row, c.Cry)
	if isUniqueViolation(err) {
		return 0, &bastion.IntegrityError{Constraint: "fort_contributors.sheet_row", Err: err}
	}
	if err != nil {
		return 0, fmt.Errorf("add fort contributor: %w", err)
	}
	return res.LastInsertId()
}

// NextFreeFortRow returns the smallest row >= first not used by any fort
// contributor. Holes left by departed members are reused.
func (s *Session) NextFreeFortRow(ctx context.Context, first int) (int, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT sheet_row FROM fort_contributors WHERE sheet_row >= ? ORDER BY sheet_row`, first)
	if err != nil {
		return 0, fmt.Errorf("next free fort row: %w", err)
	}
	defer rows.Close()
	return nextFreeRow(rows, first)
}

// --- Undermine contributors (scan-owned) ---

// InsertUmContributors inserts parsed contributor rows during a scan.
func (s *Session) InsertUmContributors(ctx context.Context, contributors []bastion.UmContributor) error {
	for _, c := range contributors {
		_, err := s.tx.ExecContext(ctx,
			`INSERT INTO um_contributors (sheet, name, sheet_row) VALUES (?, ?, ?)`,
			string(c.Sheet), c.Name, c.Row)
		if isUniqueViolation(err) {
			return &bastion.IntegrityError{Constraint: "um_contributors.sheet_row", Err: err}
		}
		if err != nil {
			return fmt.Errorf("insert um contributor: %w", err)
		}
	}
	return nil
}

// UmContributors returns contributor rows for one undermine sheet.
func (s *Session) UmContributors(ctx context.Context, sheet bastion.UmSheet) ([]bastion.UmContributor, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, sheet, name, sheet_row FROM um_contributors WHERE sheet = ? ORDER BY sheet_row`,
		string(sheet))
	if err != nil {
		return nil, fmt.Errorf("list um contributors: %w", err)
	}
	defer rows.Close()

	var out []bastion.UmContributor
	for rows.Next() {
		var c bastion.UmContributor
		var sh string
		if err := rows.Scan(&c.ID, &sh, &c.Name, &c.Row); err != nil {
			return nil, fmt.Errorf("scan um contributor: %w", err)
		}
		c.Sheet = bastion.UmSheet(sh)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UmContributorByName returns the contributor row for a sheet and exact name.
func (s *Session) UmContributorByName(ctx context.Context, sheet bastion.UmSheet, name string) (bastion.UmContributor, error) {
	var c bastion.UmContributor
	var sh string
	err := s.tx.QueryRowContext(ctx,
		`SELECT id, sheet, name, sheet_row FROM um_contributors WHERE sheet = ? AND name = ?`,
		string(sheet), name,
	).Scan(&c.ID, &sh, &c.Name, &c.Row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, &bastion.NoMatchError{Kind: "um contributor", Needle: name}
	}
	if err != nil {
		return c, fmt.Errorf("get um contributor: %w", err)
	}
	c.Sheet = bastion.UmSheet(sh)
	return c, nil
}

// AddUmContributor enrolls a new contributor at the given sheet row.
func (s *Session) AddUmContributor(ctx context.Context, c bastion.UmContributor) (int64, error) {
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO um_contributors (sheet, name, sheet_row) VALUES (?, ?, ?)`,
		string(c.Sheet), c.Name, c.Row)
	if isUniqueViolation(err) {
		return 0, &bastion.IntegrityError{Constraint: "um_contributors.sheet_row", Err: err}
	}
	if err != nil {
		return 0, fmt.Errorf("add um contributor: %w", err)
	}
	return res.LastInsertId()
}

// NextFreeUmRow returns the smallest row >= first not used on the sheet.
func (s *Session) NextFreeUmRow(ctx context.Context, sheet bastion.UmSheet, first int) (int, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT sheet_row FROM um_contributors WHERE sheet = ? AND sheet_row >= ? ORDER BY sheet_row`,
		string(sheet), first)
	if err != nil {
		return 0, fmt.Errorf("next free um row: %w", err)
	}
	defer rows.Close()
	return nextFreeRow(rows, first)
}

// nextFreeRow walks an ordered row-number result set and returns the first
// gap at or after first.
func nextFreeRow(rows *sql.Rows, first int) (int, error) {
	next := first
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			return 0, fmt.Errorf("scan row: %w", err)
		}
		if r > next {
			break
		}
		if r == next {
			next++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return next, nil
}

// --- Recruits (scan-owned) ---

// InsertRecruits replaces nothing; the recruit scanner empties the table
// first via its owned-rows drop.
func (s *Session) InsertRecruits(ctx context.Context, names map[string]int) error {
	for name, row := range names {
		if _, err := s.tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO recruits (name, sheet_row) VALUES (?, ?)`, name, row); err != nil {
			return fmt.Errorf("insert recruit: %w", err)
		}
	}
	return nil
}

// IsRecruit reports whether name appears on the recruit roster.
func (s *Session) IsRecruit(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recruits WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is recruit: %w", err)
	}
	return n > 0, nil
}

// DropRecruits empties the recruit roster ahead of a rescan.
func (s *Session) DropRecruits(ctx context.Context) error {
	_, err := s.tx.ExecContext(ctx, `DELETE FROM recruits`)
	return err
}
