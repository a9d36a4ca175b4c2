package scan

import (
	"context"
	"strings"
	"testing"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// umSheetCells builds a small undermine sheet: two target pairs from D,
// a template pair, contributors from row 14.
func umSheetCells() [][]string {
	grid := make([][]string, 15)
	for i := range grid {
		grid[i] = make([]string, 10)
	}
	set := func(row, col int, v string) { grid[row-1][col-1] = v }

	// Pair D/E: a control system.
	set(umNameRow, 4, "Rhea")
	set(umKindRow, 4, "control")
	set(umGoalRow, 4, "9000")
	set(umSecurityRow, 4, "Medium")
	set(umProgressUsRow, 4, "1500")
	set(umProgressThemRow, 4, "10%")

	// Pair F/G: an expansion.
	set(umNameRow, 6, "Nanomam")
	set(umKindRow, 6, "expansion")
	set(umGoalRow, 6, "4000")
	set(umProgressUsRow, 6, "3000")
	set(umProgressThemRow, 6, "50%")

	// Template pair H/I.
	set(umNameRow, 8, "Template")
	set(umGoalRow, 8, "0")
	set(14, 8, "=SUM(H14:H40)")

	// Contributors from row 14.
	set(14, 1, "alice")
	set(15, 1, "bob")
	// alice holds 400 on Rhea, redeemed 100.
	set(14, 4, "400")
	set(14, 5, "100")
	return grid
}

func TestUmScanParsesPairs(t *testing.T) {
	sheet := &fakeSheet{cells: umSheetCells()}
	u := NewUm(bastion.UmSheetMain, sheet)
	ctx := context.Background()
	if err := u.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}

	s := testStore(t)
	if err := s.With(ctx, func(sess *store.Session) error {
		return u.Scan(ctx, sess)
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}

	s.With(ctx, func(sess *store.Session) error { //nolint:errcheck
		targets, err := sess.UmTargets(ctx, bastion.UmSheetMain)
		if err != nil {
			t.Fatalf("targets: %v", err)
		}
		// The template pair must not parse as a target.
		if len(targets) != 2 {
			t.Fatalf("got %d targets, want 2", len(targets))
		}
		rhea := targets[0]
		if rhea.Name != "Rhea" || rhea.Kind != bastion.UmKindControl || rhea.Goal != 9000 {
			t.Errorf("Rhea = %+v", rhea)
		}
		if rhea.HeldSum != 400 || rhea.RedeemedSum != 100 {
			t.Errorf("Rhea sums = %d/%d, want 400/100", rhea.HeldSum, rhea.RedeemedSum)
		}
		nano := targets[1]
		if nano.Kind != bastion.UmKindExpansion || nano.ExpansionTrigger != 4000 {
			t.Errorf("Nanomam = %+v", nano)
		}
		return nil
	})
}

func TestUmRemoveTargetShiftsLeft(t *testing.T) {
	sheet := &fakeSheet{cells: umSheetCells()}
	u := NewUm(bastion.UmSheetMain, sheet)
	ctx := context.Background()
	if err := u.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}

	updates, err := u.RemoveTarget("rhea")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := sheet.BatchUpdate(ctx, updates); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := u.UpdateCells(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Nanomam slid into the D/E pair; Rhea is gone; the template pair
	// followed to stay at the right edge.
	if got := u.cell(umNameRow, 4); got != "Nanomam" {
		t.Errorf("D1 = %q, want Nanomam", got)
	}
	if got := u.cell(umNameRow, 6); got != "Template" {
		t.Errorf("F1 = %q, want Template", got)
	}
	if got := u.cell(umNameRow, 8); got != "" {
		t.Errorf("H1 = %q, want cleared", got)
	}
	// The template formula was rewritten for its new column.
	if got := u.cell(14, 6); !strings.Contains(got, "F14:F40") {
		t.Errorf("template formula = %q, want F-column refs", got)
	}

	s := testStore(t)
	if err := s.With(ctx, func(sess *store.Session) error {
		return u.Scan(ctx, sess)
	}); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	s.With(ctx, func(sess *store.Session) error { //nolint:errcheck
		targets, _ := sess.UmTargets(ctx, bastion.UmSheetMain)
		if len(targets) != 1 || targets[0].Name != "Nanomam" {
			t.Errorf("targets after remove = %+v", targets)
		}
		return nil
	})
}

func TestUmRemoveUnknownTarget(t *testing.T) {
	sheet := &fakeSheet{cells: umSheetCells()}
	u := NewUm(bastion.UmSheetMain, sheet)
	if err := u.UpdateCells(context.Background()); err != nil {
		t.Fatalf("update cells: %v", err)
	}
	if _, err := u.RemoveTarget("Achenar"); err == nil {
		t.Error("removing an absent target succeeded")
	}
}

func TestUmInsertTargetClonesTemplate(t *testing.T) {
	sheet := &fakeSheet{cells: umSheetCells()}
	u := NewUm(bastion.UmSheetMain, sheet)
	ctx := context.Background()
	if err := u.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}

	// "Achenar" sorts before both existing targets, so it lands at D and
	// everything slides right.
	updates, err := u.InsertTarget("Achenar", "control", 12000, "high")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := sheet.BatchUpdate(ctx, updates); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := u.UpdateCells(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if got := u.cell(umNameRow, 4); got != "Achenar" {
		t.Errorf("D1 = %q, want Achenar", got)
	}
	if got := u.cell(umGoalRow, 4); got != "12000" {
		t.Errorf("goal cell = %q, want 12000", got)
	}
	if got := u.cell(umNameRow, 6); got != "Rhea" {
		t.Errorf("F1 = %q, want slid Rhea", got)
	}
	// The template formula cloned into D is rewritten for its new column.
	if got := u.cell(14, 4); !strings.Contains(got, "D14:D40") {
		t.Errorf("cloned formula = %q, want D-column refs", got)
	}
}

func TestKosScanDuplicateRows(t *testing.T) {
	grid := [][]string{
		{"CMDR", "Squad", "Reason", "Friendly"},
		{"Bob", "", "ganking", ""},
		{"Carol", "", "", "yes"},
		{"Dave", "", "", ""},
		{"bob", "", "again", ""},
	}
	sheet := &fakeSheet{cells: grid}
	k := NewKos(sheet)
	ctx := context.Background()
	if err := k.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}

	s := testStore(t)
	err := s.With(ctx, func(sess *store.Session) error {
		return k.Scan(ctx, sess)
	})
	parseErr, ok := err.(*bastion.SheetParseError)
	if !ok {
		t.Fatalf("err = %v, want SheetParseError", err)
	}
	if len(parseErr.Rows) != 2 || parseErr.Rows[0] != 2 || parseErr.Rows[1] != 5 {
		t.Errorf("rows = %v, want [2 5]", parseErr.Rows)
	}

	// Cache unchanged.
	s.With(ctx, func(sess *store.Session) error { //nolint:errcheck
		entries, _ := sess.KosEntries(ctx)
		if len(entries) != 0 {
			t.Errorf("entries after failed scan = %+v", entries)
		}
		return nil
	})
}

func TestKosScanFriendlyFlag(t *testing.T) {
	grid := [][]string{
		{"CMDR", "Squad", "Reason", "Friendly"},
		{"Ally", "good squad", "", "friendly"},
		{"Enemy", "", "seal clubbing", ""},
	}
	sheet := &fakeSheet{cells: grid}
	k := NewKos(sheet)
	ctx := context.Background()
	if err := k.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}
	s := testStore(t)
	if err := s.With(ctx, func(sess *store.Session) error {
		return k.Scan(ctx, sess)
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	s.With(ctx, func(sess *store.Session) error { //nolint:errcheck
		entries, _ := sess.KosEntries(ctx)
		if len(entries) != 2 {
			t.Fatalf("entries = %+v", entries)
		}
		if !entries[0].Friendly || entries[1].Friendly {
			t.Errorf("friendly flags wrong: %+v", entries)
		}
		return nil
	})
}
