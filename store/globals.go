package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bastionbot/bastion"
)

// Global returns the per-cycle singleton. A zero-valued Global is
// returned before the first write.
func (s *Session) Global(ctx context.Context) (bastion.Global, error) {
	var g bastion.Global
	var updated int64
	err := s.tx.QueryRowContext(ctx,
		`SELECT cycle, consolidation, updated_at FROM globals WHERE id = 1`).
		Scan(&g.Cycle, &g.Consolidation, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return g, nil
	}
	if err != nil {
		return g, fmt.Errorf("get globals: %w", err)
	}
	g.UpdatedAt = time.Unix(updated, 0)
	return g, nil
}

// SetGlobal writes the singleton. UpdatedAt is monotonic: a write stamped
// earlier than the stored row is rejected with a validation error so
// replayed feed messages cannot roll the cycle back.
func (s *Session) SetGlobal(ctx context.Context, g bastion.Global) error {
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO globals (id, cycle, consolidation, updated_at) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   cycle = excluded.cycle,
		   consolidation = excluded.consolidation,
		   updated_at = excluded.updated_at
		 WHERE excluded.updated_at >= globals.updated_at`,
		g.Cycle, g.Consolidation, g.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("set globals: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return bastion.Validatef("updated_at", "stale write at %s rejected, stored row is newer", g.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}
