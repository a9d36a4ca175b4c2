package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// Undermine sheet layout. Each target occupies a pair of adjacent
// columns starting at D: the left column carries the header fields and
// held merits, the right column redeemed merits. Parsing stops at the
// first pair whose header is blank or a template. Contributor names run
// in column A from row 14.
const (
	umNameRow         = 1
	umKindRow         = 2
	umGoalRow         = 3
	umSecurityRow     = 4
	umNotesRow        = 5
	umCloseControlRow = 6
	umPriorityRow     = 7
	umProgressUsRow   = 8
	umProgressThemRow = 9
	umOffsetRow       = 10

	// UmFirstContribRow is the first contributor row on both undermine
	// documents.
	UmFirstContribRow = 14

	umFirstPairCol = 4

	umTemplateMark = "Template"
)

// Um scans one of the two undermine documents.
type Um struct {
	*base
	sheet bastion.UmSheet
}

// NewUm builds an undermine scanner for the given document.
func NewUm(sheet bastion.UmSheet, client bastion.SheetClient, opts ...Option) *Um {
	return &Um{base: newBase("um-"+string(sheet), client, opts...), sheet: sheet}
}

var _ Scanner = (*Um)(nil)

// Scan parses the snapshot and replaces this document's owned tables.
func (u *Um) Scan(ctx context.Context, sess *store.Session) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	targets, contributors, held, redeemed, err := u.parse()
	if err != nil {
		return err
	}

	if err := sess.DropUmData(ctx, u.sheet); err != nil {
		return err
	}
	if err := sess.InsertUmContributors(ctx, contributors); err != nil {
		return err
	}
	if err := sess.InsertUmTargets(ctx, targets); err != nil {
		return err
	}

	byRow := map[int]int64{}
	inserted, err := sess.UmContributors(ctx, u.sheet)
	if err != nil {
		return err
	}
	for _, c := range inserted {
		byRow[c.Row] = c.ID
	}
	byCol := map[string]int64{}
	insertedTargets, err := sess.UmTargets(ctx, u.sheet)
	if err != nil {
		return err
	}
	for _, t := range insertedTargets {
		byCol[t.Column] = t.ID
	}

	var contribs []bastion.UmContribution
	for key := range held {
		contribs = append(contribs, bastion.UmContribution{
			Sheet:         u.sheet,
			ContributorID: byRow[key.row],
			TargetID:      byCol[key.col],
			Held:          held[key],
			Redeemed:      redeemed[key],
		})
	}
	for key, amount := range redeemed {
		if _, seen := held[key]; seen {
			continue
		}
		contribs = append(contribs, bastion.UmContribution{
			Sheet:         u.sheet,
			ContributorID: byRow[key.row],
			TargetID:      byCol[key.col],
			Redeemed:      amount,
		})
	}
	if err := sess.InsertUmContributions(ctx, contribs); err != nil {
		return err
	}
	u.logger.Info("scan: undermine parsed", "doc", u.name,
		"targets", len(targets), "contributors", len(contributors), "contributions", len(contribs))
	return nil
}

func (u *Um) parse() (targets []bastion.UmTarget, contributors []bastion.UmContributor, held, redeemed map[cellKey]int, err error) {
	held, redeemed = map[cellKey]int{}, map[cellKey]int{}

	var pairCols []int
	for c := umFirstPairCol; c+1 <= u.width(); c += 2 {
		name := u.cell(umNameRow, c)
		if name == "" || strings.Contains(name, umTemplateMark) {
			break
		}
		t, perr := u.parsePair(c)
		if perr != nil {
			return nil, nil, nil, nil, perr
		}
		targets = append(targets, t)
		pairCols = append(pairCols, c)
	}

	for row := UmFirstContribRow; row <= u.height(); row++ {
		name := u.cell(row, 1)
		if name == "" {
			continue
		}
		contributors = append(contributors, bastion.UmContributor{
			Sheet: u.sheet, Name: name, Row: row,
		})
		for _, c := range pairCols {
			key := cellKey{row: row, col: IndexToColumn(c)}
			if h, perr := u.contribCell(row, c); perr != nil {
				return nil, nil, nil, nil, perr
			} else if h > 0 {
				held[key] = h
			}
			if r, perr := u.contribCell(row, c+1); perr != nil {
				return nil, nil, nil, nil, perr
			} else if r > 0 {
				redeemed[key] = r
			}
		}
	}
	return targets, contributors, held, redeemed, nil
}

func (u *Um) contribCell(row, col int) (int, error) {
	raw := u.cell(row, col)
	if raw == "" {
		return 0, nil
	}
	n, err := parseAmount(raw)
	if err != nil {
		return 0, &bastion.SheetParseError{
			Sheet: u.name,
			Msg:   fmt.Sprintf("contribution at %s%d: %v", IndexToColumn(col), row, err),
			Rows:  []int{row},
		}
	}
	return n, nil
}

func (u *Um) parsePair(c int) (bastion.UmTarget, error) {
	fail := func(row int, err error) (bastion.UmTarget, error) {
		return bastion.UmTarget{}, &bastion.SheetParseError{
			Sheet: u.name,
			Msg:   fmt.Sprintf("column %s: %v", IndexToColumn(c), err),
			Rows:  []int{row},
		}
	}
	kind := bastion.UmKind(strings.ToLower(u.cell(umKindRow, c)))
	if kind == "" {
		kind = bastion.UmKindControl
	}
	goal, err := parseAmount(u.cell(umGoalRow, c))
	if err != nil {
		return fail(umGoalRow, err)
	}
	us, err := parseAmount(u.cell(umProgressUsRow, c))
	if err != nil {
		return fail(umProgressUsRow, err)
	}
	them, err := parseFraction(u.cell(umProgressThemRow, c))
	if err != nil {
		return fail(umProgressThemRow, err)
	}
	offset, err := parseAmount(u.cell(umOffsetRow, c))
	if err != nil {
		return fail(umOffsetRow, err)
	}

	t := bastion.UmTarget{
		Sheet:        u.sheet,
		Name:         u.cell(umNameRow, c),
		Kind:         kind,
		Column:       IndexToColumn(c),
		Security:     u.cell(umSecurityRow, c),
		Notes:        u.cell(umNotesRow, c),
		CloseControl: u.cell(umCloseControlRow, c),
		Priority:     u.cell(umPriorityRow, c),
		ProgressUs:   us,
		ProgressThem: them,
		MapOffset:    offset,
	}
	if kind == bastion.UmKindControl {
		t.Goal = goal
	} else {
		t.ExpansionTrigger = goal
	}
	return t, nil
}

// --- Payload builders ---

// ContributorUpdate renders a contributor roster row.
func (u *Um) ContributorUpdate(c bastion.UmContributor) bastion.Update {
	return bastion.Update{
		Range:  cellRange("A", c.Row),
		Values: [][]string{{c.Name}},
	}
}

// HoldUpdate renders one held-merits cell.
func (u *Um) HoldUpdate(contributorRow int, targetCol string, held int) bastion.Update {
	return bastion.Update{
		Range:  cellRange(targetCol, contributorRow),
		Values: [][]string{{formatAmount(held)}},
	}
}

// RedeemUpdate renders one redeemed-merits cell, in the right column of
// the target's pair.
func (u *Um) RedeemUpdate(contributorRow int, targetCol string, redeemed int) (bastion.Update, error) {
	right, err := NextColumn(targetCol)
	if err != nil {
		return bastion.Update{}, err
	}
	return bastion.Update{
		Range:  cellRange(right, contributorRow),
		Values: [][]string{{formatAmount(redeemed)}},
	}, nil
}

// ProgressUpdates renders the progress cells of a target column.
func (u *Um) ProgressUpdates(t bastion.UmTarget) []bastion.Update {
	return []bastion.Update{
		{Range: cellRange(t.Column, umProgressUsRow), Values: [][]string{{formatAmount(t.ProgressUs)}}},
		{Range: cellRange(t.Column, umProgressThemRow), Values: [][]string{{fmt.Sprintf("%.0f%%", t.ProgressThem * 100)}}},
	}
}

// PriorityUpdate renders the priority cell.
func (u *Um) PriorityUpdate(t bastion.UmTarget) bastion.Update {
	return bastion.Update{Range: cellRange(t.Column, umPriorityRow), Values: [][]string{{t.Priority}}}
}

// OffsetUpdate renders the map-offset cell.
func (u *Um) OffsetUpdate(t bastion.UmTarget) bastion.Update {
	return bastion.Update{Range: cellRange(t.Column, umOffsetRow), Values: [][]string{{formatAmount(t.MapOffset)}}}
}

// --- Slide templates ---

// InsertTarget clones the template pair at the tab's right, fills in the
// new target's fields, and slides it into alphabetical position. Every
// pair at or right of the insertion point shifts two columns right with
// its formulas rewritten. Returns the full column rewrite as updates;
// the caller enqueues and rescans.
func (u *Um) InsertTarget(name, kind string, trigger int, priority string) ([]bastion.Update, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	tc := u.templateCol()
	if tc == 0 {
		return nil, &bastion.SheetParseError{Sheet: u.name, Msg: "no template columns"}
	}

	pos := tc
	for c := umFirstPairCol; c < tc; c += 2 {
		if strings.ToLower(u.cell(umNameRow, c)) > strings.ToLower(name) {
			pos = c
			break
		}
	}

	var updates []bastion.Update

	// The template pair and every pair at or right of pos slide right by
	// two, keeping the templates at the right edge.
	for c := tc + 1; c >= pos; c-- {
		shifted, err := u.shiftedColumn(c, 2)
		if err != nil {
			return nil, err
		}
		updates = append(updates, shifted)
	}

	// The new pair lands at pos, cloned from the templates.
	for _, offset := range []int{0, 1} {
		cloned, err := u.clonedColumn(tc+offset, pos-tc)
		if err != nil {
			return nil, err
		}
		updates = append(updates, cloned)
	}
	// Fill the header fields on the left column of the new pair.
	left := IndexToColumn(pos)
	updates = append(updates,
		bastion.Update{Range: cellRange(left, umNameRow), Values: [][]string{{name}}},
		bastion.Update{Range: cellRange(left, umKindRow), Values: [][]string{{kind}}},
		bastion.Update{Range: cellRange(left, umGoalRow), Values: [][]string{{formatAmount(trigger)}}},
		bastion.Update{Range: cellRange(left, umPriorityRow), Values: [][]string{{priority}}},
	)
	return updates, nil
}

// RemoveTarget slides every pair right of the named target two columns
// left, rewriting formulas by -2, and clears the vacated pair before the
// templates.
func (u *Um) RemoveTarget(name string) ([]bastion.Update, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	tc := u.templateCol()
	if tc == 0 {
		return nil, &bastion.SheetParseError{Sheet: u.name, Msg: "no template columns"}
	}
	pos := 0
	for c := umFirstPairCol; c < tc; c += 2 {
		if strings.EqualFold(u.cell(umNameRow, c), name) {
			pos = c
			break
		}
	}
	if pos == 0 {
		return nil, &bastion.NoMatchError{Kind: "um system", Needle: name}
	}

	var updates []bastion.Update
	// Everything right of the removed pair, templates included, slides
	// two columns left.
	for c := pos + 2; c <= tc+1; c++ {
		shifted, err := u.shiftedColumn(c, -2)
		if err != nil {
			return nil, err
		}
		updates = append(updates, shifted)
	}
	// Clear the vacated rightmost pair.
	empty := make([][]string, u.height())
	for i := range empty {
		empty[i] = []string{""}
	}
	for _, c := range []int{tc, tc + 1} {
		col := IndexToColumn(c)
		updates = append(updates, bastion.Update{
			Range:  spanRange(col, 1, col, u.height()),
			Values: empty,
		})
	}
	return updates, nil
}

// templateCol returns the left column of the template pair, 0 when
// missing.
func (u *Um) templateCol() int {
	for c := umFirstPairCol; c+1 <= u.width(); c += 2 {
		name := u.cell(umNameRow, c)
		if strings.Contains(name, umTemplateMark) {
			return c
		}
		if name == "" {
			return 0
		}
	}
	return 0
}

// shiftedColumn renders column c's contents at position c+delta with any
// formula references offset to match.
func (u *Um) shiftedColumn(c, delta int) (bastion.Update, error) {
	values := make([][]string, u.height())
	for row := 1; row <= u.height(); row++ {
		v := u.cell(row, c)
		if strings.HasPrefix(v, "=") {
			rewritten, err := OffsetFormula(v, delta)
			if err != nil {
				return bastion.Update{}, fmt.Errorf("%s: rewrite %s%d: %w", u.name, IndexToColumn(c), row, err)
			}
			v = rewritten
		}
		values[row-1] = []string{v}
	}
	dest := IndexToColumn(c + delta)
	return bastion.Update{Range: spanRange(dest, 1, dest, u.height()), Values: values}, nil
}

// clonedColumn renders the template column c at position c+delta.
func (u *Um) clonedColumn(c, delta int) (bastion.Update, error) {
	return u.shiftedColumn(c, delta)
}
