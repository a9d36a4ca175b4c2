package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bastionbot/bastion"
)

// validateFortTarget enforces the fort-target invariants at mutation time.
func validateFortTarget(t bastion.FortTarget) error {
	if t.Name == "" {
		return bastion.Validatef("fort_target.name", "must not be empty")
	}
	if t.Trigger < 1 {
		return bastion.Validatef("fort_target.trigger", "%d < 1", t.Trigger)
	}
	if t.FortOverride < 0 || t.FortOverride > 1 {
		return bastion.Validatef("fort_target.fort_override", "%f outside [0, 1]", t.FortOverride)
	}
	if t.Undermine < 0 || t.Undermine > 1 {
		return bastion.Validatef("fort_target.undermine", "%f outside [0, 1]", t.Undermine)
	}
	return nil
}

// InsertFortTargets inserts parsed targets during a scan, in sheet order.
func (s *Session) InsertFortTargets(ctx context.Context, targets []bastion.FortTarget) error {
	for _, t := range targets {
		if err := validateFortTarget(t); err != nil {
			return err
		}
		var manual *int
		if t.ManualOrder != nil {
			manual = t.ManualOrder
		}
		_, err := s.tx.ExecContext(ctx,
			`INSERT INTO fort_targets
			 (name, kind, fort_status, trig, fort_override, um_status, undermine,
			  distance, notes, sheet_col, sheet_order, manual_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Name, string(t.Kind), t.FortStatus, t.Trigger, t.FortOverride,
			t.UmStatus, t.Undermine, t.Distance, t.Notes, t.Column, t.SheetOrder, manual)
		if isUniqueViolation(err) {
			return &bastion.IntegrityError{Constraint: "fort_targets.name", Err: err}
		}
		if err != nil {
			return fmt.Errorf("insert fort target: %w", err)
		}
	}
	return nil
}

const fortTargetCols = `t.id, t.name, t.kind, t.fort_status, t.trig, t.fort_override,
	t.um_status, t.undermine, t.distance, t.notes, t.sheet_col, t.sheet_order, t.manual_order,
	COALESCE(SUM(c.amount), 0)`

func scanFortTarget(scan func(dest ...any) error) (bastion.FortTarget, error) {
	var t bastion.FortTarget
	var kind string
	var manual sql.NullInt64
	err := scan(&t.ID, &t.Name, &kind, &t.FortStatus, &t.Trigger, &t.FortOverride,
		&t.UmStatus, &t.Undermine, &t.Distance, &t.Notes, &t.Column, &t.SheetOrder,
		&manual, &t.CmdrMerits)
	if err != nil {
		return t, err
	}
	t.Kind = bastion.FortKind(kind)
	if manual.Valid {
		v := int(manual.Int64)
		t.ManualOrder = &v
	}
	return t, nil
}

// FortTargets returns every fort target in sheet order, with the derived
// contribution sum populated.
func (s *Session) FortTargets(ctx context.Context) ([]bastion.FortTarget, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT `+fortTargetCols+`
		 FROM fort_targets t
		 LEFT JOIN fort_contributions c ON c.target_id = t.id
		 GROUP BY t.id
		 ORDER BY t.sheet_order`)
	if err != nil {
		return nil, fmt.Errorf("list fort targets: %w", err)
	}
	defer rows.Close()

	var out []bastion.FortTarget
	for rows.Next() {
		t, err := scanFortTarget(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan fort target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FortTarget returns one target by id with derived sums.
func (s *Session) FortTarget(ctx context.Context, id int64) (bastion.FortTarget, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT `+fortTargetCols+`
		 FROM fort_targets t
		 LEFT JOIN fort_contributions c ON c.target_id = t.id
		 WHERE t.id = ?
		 GROUP BY t.id`, id)
	t, err := scanFortTarget(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, &bastion.NoMatchError{Kind: "system", Needle: fmt.Sprint(id)}
	}
	if err != nil {
		return t, fmt.Errorf("get fort target: %w", err)
	}
	return t, nil
}

// FortTargetByName resolves a substring against fort target names.
func (s *Session) FortTargetByName(ctx context.Context, needle string) (bastion.FortTarget, error) {
	targets, err := s.FortTargets(ctx)
	if err != nil {
		return bastion.FortTarget{}, err
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	i, err := pickMatch("system", needle, names)
	if err != nil {
		return bastion.FortTarget{}, err
	}
	return targets[i], nil
}

// FortTargetByExactName returns the target whose name matches exactly
// (case-insensitive); used by the order-override validator.
func (s *Session) FortTargetByExactName(ctx context.Context, name string) (bastion.FortTarget, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT `+fortTargetCols+`
		 FROM fort_targets t
		 LEFT JOIN fort_contributions c ON c.target_id = t.id
		 WHERE t.name = ? COLLATE NOCASE
		 GROUP BY t.id`, name)
	t, err := scanFortTarget(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return t, &bastion.NoMatchError{Kind: "system", Needle: name}
	}
	if err != nil {
		return t, fmt.Errorf("get fort target: %w", err)
	}
	return t, nil
}

// UpdateFortTargetStatus sets the sheet-backed fort and um status cells.
func (s *Session) UpdateFortTargetStatus(ctx context.Context, id int64, fortStatus, umStatus int) error {
	if fortStatus < 0 || umStatus < 0 {
		return bastion.Validatef("fort_target.status", "negative status %d:%d", fortStatus, umStatus)
	}
	res, err := s.tx.ExecContext(ctx,
		`UPDATE fort_targets SET fort_status = ?, um_status = ? WHERE id = ?`,
		fortStatus, umStatus, id)
	if err != nil {
		return fmt.Errorf("update fort status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &bastion.NoMatchError{Kind: "system", Needle: fmt.Sprint(id)}
	}
	return nil
}

// DropFort applies a signed contribution: the contributor's running amount
// accumulates and clamps at zero, and the target's fort_status moves by the
// same delta, also clamped at zero. Returns the refreshed target.
func (s *Session) DropFort(ctx context.Context, contributorID, targetID int64, amount int) (bastion.FortTarget, error) {
	t, err := s.FortTarget(ctx, targetID)
	if err != nil {
		return t, err
	}

	_, err = s.tx.ExecContext(ctx,
		`INSERT INTO fort_contributions (contributor_id, target_id, amount)
		 VALUES (?, ?, MAX(0, ?))
		 ON CONFLICT(contributor_id, target_id)
		 DO UPDATE SET amount = MAX(0, amount + ?)`,
		contributorID, targetID, amount, amount)
	if err != nil {
		return t, fmt.Errorf("drop fort: %w", err)
	}

	status := t.FortStatus + amount
	if status < 0 {
		status = 0
	}
	_, err = s.tx.ExecContext(ctx,
		`UPDATE fort_targets SET fort_status = ? WHERE id = ?`, status, targetID)
	if err != nil {
		return t, fmt.Errorf("drop fort status: %w", err)
	}
	return s.FortTarget(ctx, targetID)
}

// FortContributionFor returns one contributor's amount for a target, zero
// when absent.
func (s *Session) FortContributionFor(ctx context.Context, contributorID, targetID int64) (int, error) {
	var amount int
	err := s.tx.QueryRowContext(ctx,
		`SELECT amount FROM fort_contributions WHERE contributor_id = ? AND target_id = ?`,
		contributorID, targetID).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fort contribution: %w", err)
	}
	return amount, nil
}

// InsertFortContributions inserts parsed contributions during a scan.
func (s *Session) InsertFortContributions(ctx context.Context, contribs []bastion.FortContribution) error {
	for _, c := range contribs {
		if c.Amount < 0 {
			return bastion.Validatef("fort_contribution.amount", "%d < 0", c.Amount)
		}
		_, err := s.tx.ExecContext(ctx,
			`INSERT INTO fort_contributions (contributor_id, target_id, amount) VALUES (?, ?, ?)`,
			c.ContributorID, c.TargetID, c.Amount)
		if isUniqueViolation(err) {
			return &bastion.IntegrityError{Constraint: "fort_contributions.contributor_target", Err: err}
		}
		if err != nil {
			return fmt.Errorf("insert fort contribution: %w", err)
		}
	}
	return nil
}

// ContributorAmount pairs a contributor name with a merit amount.
type ContributorAmount struct {
	Name   string
	Amount int
}

// FortContributionsFor lists all contributions to a target, largest first,
// names ascending within equal amounts.
func (s *Session) FortContributionsFor(ctx context.Context, targetID int64) ([]ContributorAmount, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT fc.name, c.amount
		 FROM fort_contributions c
		 JOIN fort_contributors fc ON fc.id = c.contributor_id
		 WHERE c.target_id = ? AND c.amount > 0
		 ORDER BY c.amount DESC, fc.name ASC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("fort contributions for: %w", err)
	}
	defer rows.Close()

	var out []ContributorAmount
	for rows.Next() {
		var ca ContributorAmount
		if err := rows.Scan(&ca.Name, &ca.Amount); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		out = append(out, ca)
	}
	return out, rows.Err()
}

// --- Manual order overrides ---

// ReplaceFortOrder swaps the manual order set atomically. Ordinals are
// assigned 1..k in the given sequence; every name must resolve to a known
// fort target. An empty list clears the override.
func (s *Session) ReplaceFortOrder(ctx context.Context, names []string) error {
	if _, err := s.tx.ExecContext(ctx, `DELETE FROM fort_order`); err != nil {
		return fmt.Errorf("clear fort order: %w", err)
	}
	for i, name := range names {
		t, err := s.FortTargetByName(ctx, name)
		if err != nil {
			return err
		}
		_, err = s.tx.ExecContext(ctx,
			`INSERT INTO fort_order (ordinal, name) VALUES (?, ?)`, i+1, t.Name)
		if isUniqueViolation(err) {
			return &bastion.IntegrityError{Constraint: "fort_order.name", Err: err}
		}
		if err != nil {
			return fmt.Errorf("insert fort order: %w", err)
		}
	}
	return nil
}

// FortOrder returns the manual order names, ordinal ascending. Empty when
// no override is active.
func (s *Session) FortOrder(ctx context.Context) ([]string, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT name FROM fort_order ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("fort order: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan fort order: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
