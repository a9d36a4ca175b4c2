package scan

import (
	"context"
	"slices"
	"strings"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// KOS sheet layout: header in row 1, one commander per row from row 2.
// Columns: A commander, B squadron, C reason, D friendly marker.
const kosFirstRow = 2

// Kos scans the kill-on-sight document.
type Kos struct {
	*base
}

// NewKos builds the KOS scanner.
func NewKos(client bastion.SheetClient, opts ...Option) *Kos {
	return &Kos{base: newBase("kos", client, opts...)}
}

var _ Scanner = (*Kos)(nil)

// Scan parses the snapshot and replaces the KOS table. Duplicate
// commander names across rows fail the parse with the offending rows; a
// hand-edited sheet must be fixed before the list syncs again.
func (k *Kos) Scan(ctx context.Context, sess *store.Session) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	entries, err := k.parse()
	if err != nil {
		return err
	}
	if err := sess.DropKos(ctx); err != nil {
		return err
	}
	if err := sess.InsertKos(ctx, entries); err != nil {
		return err
	}
	k.logger.Info("scan: kos parsed", "entries", len(entries))
	return nil
}

func (k *Kos) parse() ([]bastion.KosEntry, error) {
	var entries []bastion.KosEntry
	seen := map[string][]int{}
	for row := kosFirstRow; row <= k.height(); row++ {
		cmdr := k.cell(row, 1)
		if cmdr == "" {
			continue
		}
		seen[strings.ToLower(cmdr)] = append(seen[strings.ToLower(cmdr)], row)
		entries = append(entries, bastion.KosEntry{
			Cmdr:     cmdr,
			Squad:    k.cell(row, 2),
			Reason:   k.cell(row, 3),
			Friendly: isFriendlyMark(k.cell(row, 4)),
		})
	}

	var dupRows []int
	for _, rows := range seen {
		if len(rows) > 1 {
			dupRows = append(dupRows, rows...)
		}
	}
	if len(dupRows) > 0 {
		slices.Sort(dupRows)
		return nil, &bastion.SheetParseError{
			Sheet: k.name,
			Msg:   "duplicate commander names",
			Rows:  dupRows,
		}
	}
	return entries, nil
}

func isFriendlyMark(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "friendly", "true":
		return true
	}
	return false
}

// ReportUpdate renders a new report row appended after the last occupied
// one.
func (k *Kos) ReportUpdate(e bastion.KosEntry) bastion.Update {
	k.mu.Lock()
	defer k.mu.Unlock()

	row := kosFirstRow
	for r := kosFirstRow; r <= k.height(); r++ {
		if k.cell(r, 1) != "" {
			row = r + 1
		}
	}
	friendly := ""
	if e.Friendly {
		friendly = "yes"
	}
	return bastion.Update{
		Range:  spanRange("A", row, "D", row),
		Values: [][]string{{e.Cmdr, e.Squad, e.Reason, friendly}},
	}
}
