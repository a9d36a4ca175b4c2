package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bastionbot/bastion"
)

// validateUmTarget enforces the undermine-target invariants.
func validateUmTarget(t bastion.UmTarget) error {
	if t.Name == "" {
		return bastion.Validatef("um_target.name", "must not be empty")
	}
	if t.ProgressThem < 0 {
		return bastion.Validatef("um_target.progress_them", "%f < 0", t.ProgressThem)
	}
	switch t.Kind {
	case bastion.UmKindControl, bastion.UmKindExpansion, bastion.UmKindOppose:
	default:
		return bastion.Validatef("um_target.kind", "unknown kind %q", t.Kind)
	}
	return nil
}

// InsertUmTargets inserts parsed targets during a scan.
func (s *Session) InsertUmTargets(ctx context.Context, targets []bastion.UmTarget) error {
	for _, t := range targets {
		if err := validateUmTarget(t); err != nil {
			return err
		}
		_, err := s.tx.ExecContext(ctx,
			`INSERT INTO um_targets
			 (sheet, name, kind, sheet_col, goal, security, notes, close_control,
			  priority, progress_us, progress_them, map_offset, expansion_trigger)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(t.Sheet), t.Name, string(t.Kind), t.Column, t.Goal, t.Security,
			t.Notes, t.CloseControl, t.Priority, t.ProgressUs, t.ProgressThem,
			t.MapOffset, t.ExpansionTrigger)
		if isUniqueViolation(err) {
			return &bastion.IntegrityError{Constraint: "um_targets.sheet_col", Err: err}
		}
		if err != nil {
			return fmt.Errorf("insert um target: %w", err)
		}
	}
	return nil
}

const umTargetCols = `t.id, t.sheet, t.name, t.kind, t.sheet_col, t.goal, t.security,
	t.notes, t.close_control, t.priority, t.progress_us, t.progress_them,
	t.map_offset, t.expansion_trigger,
	COALESCE(SUM(c.held), 0), COALESCE(SUM(c.redeemed), 0)`

func scanUmTarget(scan func(dest ...any) error) (bastion.UmTarget, error) {
	var t bastion.UmTarget
	var sheet, kind string
	err := scan(&t.ID, &sheet, &t.Name, &kind, &t.Column, &t.Goal, &t.Security,
		&t.Notes, &t.CloseControl, &t.Priority, &t.ProgressUs, &t.ProgressThem,
		&t.MapOffset, &t.ExpansionTrigger, &t.HeldSum, &t.RedeemedSum)
	if err != nil {
		return t, err
	}
	t.Sheet = bastion.UmSheet(sheet)
	t.Kind = bastion.UmKind(kind)
	return t, nil
}

// UmTargets returns every undermine target for a sheet, column order, with
// held/redeemed sums populated. Pass "" for both sheets.
func (s *Session) UmTargets(ctx context.Context, sheet bastion.UmSheet) ([]bastion.UmTarget, error) {
	query := `SELECT ` + umTargetCols + `
		 FROM um_targets t
		 LEFT JOIN um_contributions c ON c.target_id = t.id AND c.sheet = t.sheet`
	var args []any
	if sheet != "" {
		query += ` WHERE t.sheet = ?`
		args = append(args, string(sheet))
	}
	query += ` GROUP BY t.id ORDER BY t.sheet, t.sheet_col`

	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list um targets: %w", err)
	}
	defer rows.Close()

	var out []bastion.UmTarget
	for rows.Next() {
		t, err := scanUmTarget(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan um target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UmTarget returns one target by id with derived sums.
func (s *Session) UmTarget(ctx context.Context, id int64) (bastion.UmTarget, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT `+umTargetCols+`
		 FROM um_targets t
		 LEFT JOIN um_contributions c ON c.target_id = t.id AND c.sheet = t.sheet
		 WHERE t.id = ?
		 GROUP BY t.id`, id)
	t, err := scanUmTarget(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, &bastion.NoMatchError{Kind: "um system", Needle: fmt.Sprint(id)}
	}
	if err != nil {
		return t, fmt.Errorf("get um target: %w", err)
	}
	return t, nil
}

// UmTargetByName resolves a substring across both undermine sheets.
func (s *Session) UmTargetByName(ctx context.Context, needle string) (bastion.UmTarget, error) {
	targets, err := s.UmTargets(ctx, "")
	if err != nil {
		return bastion.UmTarget{}, err
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	i, err := pickMatch("um system", needle, names)
	if err != nil {
		return bastion.UmTarget{}, err
	}
	return targets[i], nil
}

// SetUmProgress updates the sheet-backed progress cells for a target.
func (s *Session) SetUmProgress(ctx context.Context, id int64, us int, them float64) error {
	if us < 0 {
		return bastion.Validatef("um_target.progress_us", "%d < 0", us)
	}
	if them < 0 {
		return bastion.Validatef("um_target.progress_them", "%f < 0", them)
	}
	res, err := s.tx.ExecContext(ctx,
		`UPDATE um_targets SET progress_us = ?, progress_them = ? WHERE id = ?`,
		us, them, id)
	if err != nil {
		return fmt.Errorf("set um progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &bastion.NoMatchError{Kind: "um system", Needle: fmt.Sprint(id)}
	}
	return nil
}

// SetUmOffset updates the map offset for a target.
func (s *Session) SetUmOffset(ctx context.Context, id int64, offset int) error {
	_, err := s.tx.ExecContext(ctx,
		`UPDATE um_targets SET map_offset = ? WHERE id = ?`, offset, id)
	if err != nil {
		return fmt.Errorf("set um offset: %w", err)
	}
	return nil
}

// SetUmPriority updates the priority note for a target.
func (s *Session) SetUmPriority(ctx context.Context, id int64, priority string) error {
	_, err := s.tx.ExecContext(ctx,
		`UPDATE um_targets SET priority = ? WHERE id = ?`, priority, id)
	if err != nil {
		return fmt.Errorf("set um priority: %w", err)
	}
	return nil
}

// InsertUmContributions inserts parsed contributions during a scan.
func (s *Session) InsertUmContributions(ctx context.Context, contribs []bastion.UmContribution) error {
	for _, c := range contribs {
		if c.Held < 0 || c.Redeemed < 0 {
			return bastion.Validatef("um_contribution", "held %d / redeemed %d negative", c.Held, c.Redeemed)
		}
		_, err := s.tx.ExecContext(ctx,
			`INSERT INTO um_contributions (sheet, contributor_id, target_id, held, redeemed)
			 VALUES (?, ?, ?, ?, ?)`,
			string(c.Sheet), c.ContributorID, c.TargetID, c.Held, c.Redeemed)
		if isUniqueViolation(err) {
			return &bastion.IntegrityError{Constraint: "um_contributions.contributor_target", Err: err}
		}
		if err != nil {
			return fmt.Errorf("insert um contribution: %w", err)
		}
	}
	return nil
}

// SetHold sets (not increments) the held merits for one contributor and
// target, creating the contribution row on first touch.
func (s *Session) SetHold(ctx context.Context, sheet bastion.UmSheet, contributorID, targetID int64, held int) error {
	if held < 0 {
		return bastion.Validatef("um_contribution.held", "%d < 0", held)
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO um_contributions (sheet, contributor_id, target_id, held, redeemed)
		 VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT(sheet, contributor_id, target_id) DO UPDATE SET held = excluded.held`,
		string(sheet), contributorID, targetID, held)
	if err != nil {
		return fmt.Errorf("set hold: %w", err)
	}
	return nil
}

// HoldRow is one contributor's holdings against one target.
type HoldRow struct {
	TargetID   int64
	TargetName string
	Sheet      bastion.UmSheet
	Held       int
	Redeemed   int
}

// HoldsFor lists a contributor's holdings across both sheets by sheet
// name (the same name appears on both documents), target name ascending.
func (s *Session) HoldsFor(ctx context.Context, name string) ([]HoldRow, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT c.target_id, t.name, c.sheet, c.held, c.redeemed
		 FROM um_contributions c
		 JOIN um_targets t ON t.id = c.target_id
		 JOIN um_contributors uc ON uc.id = c.contributor_id
		 WHERE uc.name = ?
		 ORDER BY t.name`, name)
	if err != nil {
		return nil, fmt.Errorf("holds for: %w", err)
	}
	defer rows.Close()

	var out []HoldRow
	for rows.Next() {
		var h HoldRow
		var sheet string
		if err := rows.Scan(&h.TargetID, &h.TargetName, &sheet, &h.Held, &h.Redeemed); err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		h.Sheet = bastion.UmSheet(sheet)
		out = append(out, h)
	}
	return out, rows.Err()
}

// DieHolds zeroes all held merits for a contributor: the commander died
// and the cargo is gone. Returns the rows as they were before the reset.
func (s *Session) DieHolds(ctx context.Context, name string) ([]HoldRow, error) {
	holds, err := s.HoldsFor(ctx, name)
	if err != nil {
		return nil, err
	}
	_, err = s.tx.ExecContext(ctx,
		`UPDATE um_contributions SET held = 0
		 WHERE contributor_id IN (SELECT id FROM um_contributors WHERE name = ?)`, name)
	if err != nil {
		return nil, fmt.Errorf("die holds: %w", err)
	}
	return holds, nil
}

// RedeemHolds moves held merits into redeemed for a contributor. When
// targetIDs is empty, every holding moves; otherwise only the named ones.
// Returns the rows that moved with their pre-redeem held amounts.
func (s *Session) RedeemHolds(ctx context.Context, name string, targetIDs []int64) ([]HoldRow, error) {
	holds, err := s.HoldsFor(ctx, name)
	if err != nil {
		return nil, err
	}
	wanted := func(id int64) bool {
		if len(targetIDs) == 0 {
			return true
		}
		for _, t := range targetIDs {
			if t == id {
				return true
			}
		}
		return false
	}

	var moved []HoldRow
	for _, h := range holds {
		if h.Held == 0 || !wanted(h.TargetID) {
			continue
		}
		_, err := s.tx.ExecContext(ctx,
			`UPDATE um_contributions
			 SET redeemed = redeemed + held, held = 0
			 WHERE target_id = ?
			   AND contributor_id IN (SELECT id FROM um_contributors WHERE name = ?)`,
			h.TargetID, name)
		if err != nil {
			return nil, fmt.Errorf("redeem holds: %w", err)
		}
		moved = append(moved, h)
	}
	return moved, nil
}

// UmContributionsFor lists contributions to one target, largest total
// first, names ascending within ties.
func (s *Session) UmContributionsFor(ctx context.Context, targetID int64) ([]ContributorAmount, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT uc.name, c.held + c.redeemed
		 FROM um_contributions c
		 JOIN um_contributors uc ON uc.id = c.contributor_id
		 WHERE c.target_id = ? AND c.held + c.redeemed > 0
		 ORDER BY c.held + c.redeemed DESC, uc.name ASC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("um contributions for: %w", err)
	}
	defer rows.Close()

	var out []ContributorAmount
	for rows.Next() {
		var ca ContributorAmount
		if err := rows.Scan(&ca.Name, &ca.Amount); err != nil {
			return nil, fmt.Errorf("scan um contribution: %w", err)
		}
		out = append(out, ca)
	}
	return out, rows.Err()
}
