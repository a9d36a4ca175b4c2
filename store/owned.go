package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bastionbot/bastion"
)

// Per-scanner owned-row drops. A rescan replaces only the tables its
// document feeds; everything else survives.

// DropFortData clears the fortification document's rows.
func (s *Session) DropFortData(ctx context.Context) error {
	for _, table := range []string{"fort_contributions", "fort_contributors", "fort_targets"} {
		if _, err := s.tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

// DropUmData clears one undermine document's rows; the other sheet keeps
// its data.
func (s *Session) DropUmData(ctx context.Context, sheet bastion.UmSheet) error {
	for _, table := range []string{"um_contributions", "um_contributors", "um_targets"} {
		if _, err := s.tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE sheet = ?", string(sheet)); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

// DropKos clears the kill-on-sight list ahead of a rescan.
func (s *Session) DropKos(ctx context.Context) error {
	if _, err := s.tx.ExecContext(ctx, `DELETE FROM kos`); err != nil {
		return fmt.Errorf("drop kos: %w", err)
	}
	return nil
}

// EnsureCarrierSquad records a known (callsign, squad) pair from the
// carrier-id document. Sighting data on an existing row is untouched;
// only the squad label refreshes.
func (s *Session) EnsureCarrierSquad(ctx context.Context, id, squad string, seenAt time.Time) error {
	if len(id) != bastion.CarrierIDLen {
		return bastion.Validatef("carrier.id", "callsign %q is not %d characters", id, bastion.CarrierIDLen)
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO carriers (id, squad, system, prev_system, override, updated_at)
		 VALUES (?, ?, '', '', 0, ?)
		 ON CONFLICT(id) DO UPDATE SET squad = excluded.squad`,
		id, squad, seenAt.Unix())
	if err != nil {
		return fmt.Errorf("ensure carrier squad: %w", err)
	}
	return nil
}
