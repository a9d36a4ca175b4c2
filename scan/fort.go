package scan

import (
	"context"
	"fmt"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// Fortification sheet layout. Each target occupies one column: header
// rows 1..8 carry the target fields, contributions run under row 11
// aligned with the contributor roster in columns A and B. Unused system
// columns hold the "TBA" placeholder in the name row.
const (
	fortNameRow     = 1
	fortTriggerRow  = 2
	fortStatusRow   = 3
	fortOverrideRow = 4
	fortUmStatusRow = 5
	fortUmBarRow    = 6
	fortDistanceRow = 7
	fortNotesRow    = 8

	// FortFirstContribRow is the first contributor row; auto-enrollment
	// allocates from here.
	FortFirstContribRow = 11

	// Preps sit in the isolated columns between C and the first system.
	fortPrepFirstCol = 4

	fortPlaceholder = "TBA"
)

// Fort scans the fortification document.
type Fort struct {
	*base
}

// NewFort builds the fortification scanner.
func NewFort(client bastion.SheetClient, opts ...Option) *Fort {
	return &Fort{base: newBase("fort", client, opts...)}
}

var _ Scanner = (*Fort)(nil)

// Scan parses the current snapshot and replaces the fort-owned tables
// inside sess. A parse failure leaves the session untouched; the caller's
// rollback keeps the previous cache.
func (f *Fort) Scan(ctx context.Context, sess *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	targets, contributors, amounts, err := f.parse()
	if err != nil {
		return err
	}

	if err := sess.DropFortData(ctx); err != nil {
		return err
	}
	if err := sess.InsertFortContributors(ctx, contributors); err != nil {
		return err
	}
	if err := sess.InsertFortTargets(ctx, targets); err != nil {
		return err
	}

	// Re-read for the generated ids, then join contributions on (row, col).
	byRow := map[int]int64{}
	inserted, err := sess.FortContributors(ctx)
	if err != nil {
		return err
	}
	for _, c := range inserted {
		byRow[c.Row] = c.ID
	}
	byCol := map[string]int64{}
	insertedTargets, err := sess.FortTargets(ctx)
	if err != nil {
		return err
	}
	for _, t := range insertedTargets {
		byCol[t.Column] = t.ID
	}

	var contribs []bastion.FortContribution
	for key, amount := range amounts {
		contribs = append(contribs, bastion.FortContribution{
			ContributorID: byRow[key.row],
			TargetID:      byCol[key.col],
			Amount:        amount,
		})
	}
	if err := sess.InsertFortContributions(ctx, contribs); err != nil {
		return err
	}
	f.logger.Info("scan: fort parsed",
		"targets", len(targets), "contributors", len(contributors), "contributions", len(contribs))
	return nil
}

type cellKey struct {
	row int
	col string
}

func (f *Fort) parse() ([]bastion.FortTarget, []bastion.FortContributor, map[cellKey]int, error) {
	firstSystem := f.firstSystemCol()
	if firstSystem == 0 {
		return nil, nil, nil, &bastion.SheetParseError{Sheet: f.name, Msg: "no system columns found"}
	}

	var targets []bastion.FortTarget
	order := 0

	// Prep block: isolated named columns left of the first system.
	for c := fortPrepFirstCol; c < firstSystem; c++ {
		if name := f.cell(fortNameRow, c); name != "" && name != fortPlaceholder {
			t, err := f.parseTarget(c, bastion.FortKindPrep, order)
			if err != nil {
				return nil, nil, nil, err
			}
			order++
			targets = append(targets, t)
		}
	}

	lastSystem := firstSystem - 1
	for c := firstSystem; c <= f.width(); c++ {
		name := f.cell(fortNameRow, c)
		if name == "" || name == fortPlaceholder {
			break
		}
		t, err := f.parseTarget(c, bastion.FortKindFort, order)
		if err != nil {
			return nil, nil, nil, err
		}
		order++
		targets = append(targets, t)
		lastSystem = c
	}

	contributors, err := f.parseContributors()
	if err != nil {
		return nil, nil, nil, err
	}

	amounts := map[cellKey]int{}
	for _, contrib := range contributors {
		for c := firstSystem; c <= lastSystem; c++ {
			raw := f.cell(contrib.Row, c)
			if raw == "" {
				continue
			}
			amount, err := parseAmount(raw)
			if err != nil {
				return nil, nil, nil, &bastion.SheetParseError{
					Sheet: f.name,
					Msg:   fmt.Sprintf("contribution at %s%d: %v", IndexToColumn(c), contrib.Row, err),
					Rows:  []int{contrib.Row},
				}
			}
			if amount > 0 {
				amounts[cellKey{row: contrib.Row, col: IndexToColumn(c)}] = amount
			}
		}
	}
	return targets, contributors, amounts, nil
}

// firstSystemCol finds the first of two consecutive named columns; preps
// never sit adjacent, so a pair marks the system block.
func (f *Fort) firstSystemCol() int {
	for c := fortPrepFirstCol; c < f.width(); c++ {
		a, b := f.cell(fortNameRow, c), f.cell(fortNameRow, c+1)
		if a != "" && a != fortPlaceholder && b != "" && b != fortPlaceholder {
			return c
		}
	}
	return 0
}

func (f *Fort) parseTarget(c int, kind bastion.FortKind, order int) (bastion.FortTarget, error) {
	fail := func(row int, err error) (bastion.FortTarget, error) {
		return bastion.FortTarget{}, &bastion.SheetParseError{
			Sheet: f.name,
			Msg:   fmt.Sprintf("column %s: %v", IndexToColumn(c), err),
			Rows:  []int{row},
		}
	}
	trigger, err := parseAmount(f.cell(fortTriggerRow, c))
	if err != nil {
		return fail(fortTriggerRow, err)
	}
	status, err := parseAmount(f.cell(fortStatusRow, c))
	if err != nil {
		return fail(fortStatusRow, err)
	}
	override, err := parseFraction(f.cell(fortOverrideRow, c))
	if err != nil {
		return fail(fortOverrideRow, err)
	}
	umStatus, err := parseAmount(f.cell(fortUmStatusRow, c))
	if err != nil {
		return fail(fortUmStatusRow, err)
	}
	umBar, err := parseFraction(f.cell(fortUmBarRow, c))
	if err != nil {
		return fail(fortUmBarRow, err)
	}
	distance, err := parseDistance(f.cell(fortDistanceRow, c))
	if err != nil {
		return fail(fortDistanceRow, err)
	}
	return bastion.FortTarget{
		Name:         f.cell(fortNameRow, c),
		Kind:         kind,
		FortStatus:   status,
		Trigger:      trigger,
		FortOverride: override,
		UmStatus:     umStatus,
		Undermine:    umBar,
		Distance:     distance,
		Notes:        f.cell(fortNotesRow, c),
		Column:       IndexToColumn(c),
		SheetOrder:   order,
	}, nil
}

func (f *Fort) parseContributors() ([]bastion.FortContributor, error) {
	var out []bastion.FortContributor
	for row := FortFirstContribRow; row <= f.height(); row++ {
		name := f.cell(row, 1)
		if name == "" {
			continue
		}
		out = append(out, bastion.FortContributor{
			Name: name,
			Row:  row,
			Cry:  f.cell(row, 2),
		})
	}
	return out, nil
}

// --- Payload builders ---

// ContributorUpdate renders a contributor roster row (auto-enrollment).
func (f *Fort) ContributorUpdate(c bastion.FortContributor) bastion.Update {
	return bastion.Update{
		Range:  spanRange("A", c.Row, "B", c.Row),
		Values: [][]string{{c.Name, c.Cry}},
	}
}

// StatusUpdates renders the fort and um status cells of a target column.
func (f *Fort) StatusUpdates(t bastion.FortTarget) []bastion.Update {
	return []bastion.Update{
		{Range: cellRange(t.Column, fortStatusRow), Values: [][]string{{formatAmount(t.FortStatus)}}},
		{Range: cellRange(t.Column, fortUmStatusRow), Values: [][]string{{formatAmount(t.UmStatus)}}},
	}
}

// DropUpdate renders one contribution cell.
func (f *Fort) DropUpdate(contributorRow int, targetCol string, amount int) bastion.Update {
	return bastion.Update{
		Range:  cellRange(targetCol, contributorRow),
		Values: [][]string{{formatAmount(amount)}},
	}
}
