package scan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// fakeSheet is an in-memory SheetClient. BatchUpdate applies writes to
// the cell grid so scan-write-rescan round trips can be asserted.
type fakeSheet struct {
	mu      sync.Mutex
	title   string
	tab     string
	cells   [][]string
	batches [][]bastion.Update
	readErr error
}

func (f *fakeSheet) Title(context.Context) (string, error) { return f.title, nil }

func (f *fakeSheet) WholeSheet(context.Context) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([][]string, len(f.cells))
	for i, r := range f.cells {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (f *fakeSheet) BatchGet(_ context.Context, ranges []string) ([][][]string, error) {
	return make([][][]string, len(ranges)), nil
}

func (f *fakeSheet) BatchUpdate(_ context.Context, updates []bastion.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, updates)
	for _, u := range updates {
		if err := f.apply(u); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSheet) ChangeWorksheet(_ context.Context, tab string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tab = tab
	return nil
}

func (f *fakeSheet) Worksheet() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tab
}

func (f *fakeSheet) apply(u bastion.Update) error {
	from, _, _ := strings.Cut(u.Range, ":")
	col, row, err := splitRef(from)
	if err != nil {
		return err
	}
	start, err := ColumnToIndex(col)
	if err != nil {
		return err
	}
	for dr, rowVals := range u.Values {
		for dc, v := range rowVals {
			f.set(row+dr, start+dc, v)
		}
	}
	return nil
}

func (f *fakeSheet) set(row, col int, v string) {
	for len(f.cells) < row {
		f.cells = append(f.cells, nil)
	}
	r := f.cells[row-1]
	for len(r) < col {
		r = append(r, "")
	}
	r[col-1] = v
	f.cells[row-1] = r
}

func splitRef(ref string) (col string, row int, err error) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(ref) {
		return "", 0, fmt.Errorf("bad ref %q", ref)
	}
	row, err = strconv.Atoi(ref[i:])
	return ref[:i], row, err
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.Open(":memory:")
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

// fortSheetCells builds a small fortification sheet: one prep in D, two
// systems in F..G, two contributors from row 11.
func fortSheetCells() [][]string {
	grid := make([][]string, 12)
	width := 8
	for i := range grid {
		grid[i] = make([]string, width)
	}
	set := func(row, col int, v string) { grid[row-1][col-1] = v }

	// Placeholders up to the system block.
	set(fortNameRow, 5, "TBA")
	set(fortNameRow, 8, "TBA")

	// Prep in D.
	set(fortNameRow, 4, "Alioth")
	set(fortTriggerRow, 4, "2000")

	// Systems in F and G.
	set(fortNameRow, 6, "Frey")
	set(fortTriggerRow, 6, "4910")
	set(fortStatusRow, 6, "4210")
	set(fortDistanceRow, 6, "88.5")

	set(fortNameRow, 7, "Rana")
	set(fortTriggerRow, 7, "5211")
	set(fortStatusRow, 7, "0")
	set(fortNotesRow, 7, "s/m pads only")

	// Contributors.
	set(11, 1, "alice")
	set(11, 2, "o7")
	set(12, 1, "bob")

	// Contributions: alice dropped 300 on Frey.
	set(11, 6, "300")
	return grid
}

func TestFortScanParsesSheet(t *testing.T) {
	sheet := &fakeSheet{cells: fortSheetCells()}
	f := NewFort(sheet)
	ctx := context.Background()
	if err := f.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}

	s := testStore(t)
	if err := s.With(ctx, func(sess *store.Session) error {
		return f.Scan(ctx, sess)
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if err := s.With(ctx, func(sess *store.Session) error {
		targets, err := sess.FortTargets(ctx)
		if err != nil {
			return err
		}
		if len(targets) != 3 {
			t.Fatalf("got %d targets, want 3", len(targets))
		}
		// Sheet order: prep first, then the system block.
		if targets[0].Name != "Alioth" || targets[0].Kind != bastion.FortKindPrep {
			t.Errorf("first target = %s/%s, want prep Alioth", targets[0].Name, targets[0].Kind)
		}
		frey := targets[1]
		if frey.Name != "Frey" || frey.Trigger != 4910 || frey.FortStatus != 4210 {
			t.Errorf("Frey = %+v", frey)
		}
		if frey.CmdrMerits != 300 {
			t.Errorf("Frey merits = %d, want 300", frey.CmdrMerits)
		}
		if !targets[2].IsMedium() {
			t.Error("Rana with s/m note not medium")
		}

		contributors, err := sess.FortContributors(ctx)
		if err != nil {
			return err
		}
		if len(contributors) != 2 || contributors[0].Name != "alice" || contributors[0].Cry != "o7" {
			t.Errorf("contributors = %+v", contributors)
		}
		return nil
	}); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

// A second scan without intervening writes reproduces the same cache.
func TestFortScanDeterministic(t *testing.T) {
	sheet := &fakeSheet{cells: fortSheetCells()}
	f := NewFort(sheet)
	ctx := context.Background()
	if err := f.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}
	s := testStore(t)

	snapshot := func() string {
		var out string
		s.With(ctx, func(sess *store.Session) error { //nolint:errcheck
			targets, _ := sess.FortTargets(ctx)
			contributors, _ := sess.FortContributors(ctx)
			for _, t := range targets {
				t.ID = 0 // ids are generated, not part of the content
				out += fmt.Sprintf("%+v\n", t)
			}
			for _, c := range contributors {
				c.ID = 0
				out += fmt.Sprintf("%+v\n", c)
			}
			return nil
		})
		return out
	}

	for i := range 2 {
		if err := s.With(ctx, func(sess *store.Session) error {
			return f.Scan(ctx, sess)
		}); err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
	}
	first := snapshot()
	if err := s.With(ctx, func(sess *store.Session) error {
		return f.Scan(ctx, sess)
	}); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if second := snapshot(); second != first {
		t.Errorf("reparse changed the cache:\n%s\nvs\n%s", first, second)
	}
}

func TestFortScanFailureKeepsCache(t *testing.T) {
	sheet := &fakeSheet{cells: fortSheetCells()}
	f := NewFort(sheet)
	ctx := context.Background()
	if err := f.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}
	s := testStore(t)
	if err := s.With(ctx, func(sess *store.Session) error {
		return f.Scan(ctx, sess)
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// Corrupt a trigger cell and rescan: the parse fails, the session
	// rolls back, the old rows stay.
	sheet.cells[fortTriggerRow-1][5] = "not a number"
	if err := f.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}
	err := s.With(ctx, func(sess *store.Session) error {
		return f.Scan(ctx, sess)
	})
	if err == nil {
		t.Fatal("scan of corrupt sheet succeeded")
	}
	s.With(ctx, func(sess *store.Session) error { //nolint:errcheck
		targets, _ := sess.FortTargets(ctx)
		if len(targets) != 3 {
			t.Errorf("cache lost after failed scan: %d targets", len(targets))
		}
		return nil
	})
}

func TestFlusherCoalescesAndApplies(t *testing.T) {
	sheet := &fakeSheet{cells: fortSheetCells()}
	f := NewFort(sheet)
	ctx := context.Background()

	f.Enqueue(f.DropUpdate(11, "F", 700))
	f.Enqueue(f.DropUpdate(12, "F", 150))
	if err := f.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(sheet.batches) != 1 {
		t.Fatalf("got %d batches, want 1 coalesced batch", len(sheet.batches))
	}
	if got := sheet.cells[10][5]; got != "700" {
		t.Errorf("F11 = %q, want 700", got)
	}
	if got := sheet.cells[11][5]; got != "150" {
		t.Errorf("F12 = %q, want 150", got)
	}

	// Nothing pending: flush is a no-op.
	if err := f.Flush(ctx); err != nil {
		t.Fatalf("empty flush: %v", err)
	}
	if len(sheet.batches) != 1 {
		t.Errorf("empty flush sent a batch")
	}
}

func TestContributorUpdateRoundTrip(t *testing.T) {
	sheet := &fakeSheet{cells: fortSheetCells()}
	f := NewFort(sheet)
	ctx := context.Background()

	// Enroll a contributor at row 13, write it, rescan.
	f.Enqueue(f.ContributorUpdate(bastion.FortContributor{Name: "carol", Row: 13, Cry: "hi"}))
	if err := f.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := f.UpdateCells(ctx); err != nil {
		t.Fatalf("update cells: %v", err)
	}

	s := testStore(t)
	if err := s.With(ctx, func(sess *store.Session) error {
		return f.Scan(ctx, sess)
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	s.With(ctx, func(sess *store.Session) error { //nolint:errcheck
		c, err := sess.FortContributorByName(ctx, "carol")
		if err != nil {
			t.Fatalf("carol not parsed back: %v", err)
		}
		if c.Row != 13 || c.Cry != "hi" {
			t.Errorf("carol = %+v", c)
		}
		return nil
	})
}
