package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bastionbot/bastion"
)

// AddTrackedSystem registers a watch centre. The caller expands the
// covered-system cache separately via MergeTrackedCache.
func (s *Session) AddTrackedSystem(ctx context.Context, t bastion.TrackedSystem) error {
	if t.DistanceLY < 0 {
		return bastion.Validatef("tracked_system.distance_ly", "%f < 0", t.DistanceLY)
	}
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO tracked_systems (name, distance_ly) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET distance_ly = excluded.distance_ly`,
		t.Name, t.DistanceLY)
	if err != nil {
		return fmt.Errorf("add tracked system: %w", err)
	}
	return nil
}

// TrackedSystems lists all watch centres, name ascending.
func (s *Session) TrackedSystems(ctx context.Context) ([]bastion.TrackedSystem, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT name, distance_ly FROM tracked_systems ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tracked systems: %w", err)
	}
	defer rows.Close()

	var out []bastion.TrackedSystem
	for rows.Next() {
		var t bastion.TrackedSystem
		if err := rows.Scan(&t.Name, &t.DistanceLY); err != nil {
			return nil, fmt.Errorf("scan tracked system: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TrackedSystemByName resolves a substring against watch-centre names.
func (s *Session) TrackedSystemByName(ctx context.Context, needle string) (bastion.TrackedSystem, error) {
	systems, err := s.TrackedSystems(ctx)
	if err != nil {
		return bastion.TrackedSystem{}, err
	}
	names := make([]string, len(systems))
	for i, t := range systems {
		names[i] = t.Name
	}
	i, err := pickMatch("tracked system", needle, names)
	if err != nil {
		return bastion.TrackedSystem{}, err
	}
	return systems[i], nil
}

// MergeTrackedCache records that every system in covered falls inside the
// centre's radius. Systems already cached gain the centre in their
// overlap set; new systems get a fresh row.
func (s *Session) MergeTrackedCache(ctx context.Context, centre string, covered []string) error {
	for _, name := range covered {
		overlaps, err := s.cachedOverlaps(ctx, name)
		if err != nil {
			return err
		}
		if containsFold(overlaps, centre) {
			continue
		}
		overlaps = append(overlaps, centre)
		_, err = s.tx.ExecContext(ctx,
			`INSERT INTO tracked_cached (name, overlaps_with) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET overlaps_with = excluded.overlaps_with`,
			name, strings.Join(overlaps, ","))
		if err != nil {
			return fmt.Errorf("merge tracked cache: %w", err)
		}
	}
	return nil
}

// RemoveTrackedSystem deletes a watch centre and subtracts it from every
// cached system's overlap set. Cached rows whose set empties are dropped.
func (s *Session) RemoveTrackedSystem(ctx context.Context, centre string) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM tracked_systems WHERE name = ?`, centre)
	if err != nil {
		return fmt.Errorf("remove tracked system: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &bastion.NoMatchError{Kind: "tracked system", Needle: centre}
	}

	rows, err := s.tx.QueryContext(ctx, `SELECT name, overlaps_with FROM tracked_cached`)
	if err != nil {
		return fmt.Errorf("read tracked cache: %w", err)
	}
	type cached struct{ name, overlaps string }
	var all []cached
	for rows.Next() {
		var c cached
		if err := rows.Scan(&c.name, &c.overlaps); err != nil {
			rows.Close()
			return fmt.Errorf("scan tracked cache: %w", err)
		}
		all = append(all, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, c := range all {
		kept := removeFold(splitOverlaps(c.overlaps), centre)
		switch {
		case len(kept) == 0:
			_, err = s.tx.ExecContext(ctx, `DELETE FROM tracked_cached WHERE name = ?`, c.name)
		case len(kept) != len(splitOverlaps(c.overlaps)):
			_, err = s.tx.ExecContext(ctx,
				`UPDATE tracked_cached SET overlaps_with = ? WHERE name = ?`,
				strings.Join(kept, ","), c.name)
		}
		if err != nil {
			return fmt.Errorf("shrink tracked cache: %w", err)
		}
	}
	return nil
}

// IsWatched reports whether a system lies inside any watch radius, and
// which centres cover it.
func (s *Session) IsWatched(ctx context.Context, system string) (bool, []string, error) {
	overlaps, err := s.cachedOverlaps(ctx, system)
	if err != nil {
		return false, nil, err
	}
	return len(overlaps) > 0, overlaps, nil
}

// TrackedCache lists every covered system with its centres.
func (s *Session) TrackedCache(ctx context.Context) ([]bastion.TrackedSystemCached, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT name, overlaps_with FROM tracked_cached ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tracked cache: %w", err)
	}
	defer rows.Close()

	var out []bastion.TrackedSystemCached
	for rows.Next() {
		var name, overlaps string
		if err := rows.Scan(&name, &overlaps); err != nil {
			return nil, fmt.Errorf("scan tracked cache: %w", err)
		}
		out = append(out, bastion.TrackedSystemCached{Name: name, OverlapsWith: splitOverlaps(overlaps)})
	}
	return out, rows.Err()
}

func (s *Session) cachedOverlaps(ctx context.Context, system string) ([]string, error) {
	var overlaps string
	err := s.tx.QueryRowContext(ctx,
		`SELECT overlaps_with FROM tracked_cached WHERE name = ?`, system).Scan(&overlaps)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracked cache lookup: %w", err)
	}
	return splitOverlaps(overlaps), nil
}

func splitOverlaps(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func removeFold(list []string, drop string) []string {
	var kept []string
	for _, v := range list {
		if !strings.EqualFold(v, drop) {
			kept = append(kept, v)
		}
	}
	return kept
}

// --- Carriers ---

// UpsertCarrier records a carrier sighting. On a move the previous system
// is preserved so alerts can say where it jumped from. Returns the prior
// row (zero-valued when new) and whether the carrier changed system.
func (s *Session) UpsertCarrier(ctx context.Context, id, squad, system string, seenAt time.Time) (prev bastion.TrackedCarrier, moved bool, err error) {
	if len(id) != bastion.CarrierIDLen {
		return prev, false, bastion.Validatef("carrier.id", "callsign %q is not %d characters", id, bastion.CarrierIDLen)
	}
	prev, err = s.Carrier(ctx, id)
	var noMatch *bastion.NoMatchError
	switch {
	case errors.As(err, &noMatch):
		_, err = s.tx.ExecContext(ctx,
			`INSERT INTO carriers (id, squad, system, prev_system, override, updated_at)
			 VALUES (?, ?, ?, '', 0, ?)`,
			id, squad, system, seenAt.Unix())
		if err != nil {
			return prev, false, fmt.Errorf("insert carrier: %w", err)
		}
		return bastion.TrackedCarrier{}, false, nil
	case err != nil:
		return prev, false, err
	}

	moved = !strings.EqualFold(prev.System, system)
	prevSystem := prev.PrevSystem
	if moved {
		prevSystem = prev.System
	}
	newSquad := prev.Squad
	if squad != "" {
		newSquad = squad
	}
	_, err = s.tx.ExecContext(ctx,
		`UPDATE carriers SET squad = ?, system = ?, prev_system = ?, updated_at = ? WHERE id = ?`,
		newSquad, system, prevSystem, seenAt.Unix(), id)
	if err != nil {
		return prev, false, fmt.Errorf("update carrier: %w", err)
	}
	return prev, moved, nil
}

// Carrier returns one carrier by callsign.
func (s *Session) Carrier(ctx context.Context, id string) (bastion.TrackedCarrier, error) {
	row := s.tx.QueryRowContext(ctx,
		`SELECT id, squad, system, prev_system, override, updated_at
		 FROM carriers WHERE id = ?`, id)
	c, err := scanCarrier(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return c, &bastion.NoMatchError{Kind: "carrier", Needle: id}
	}
	if err != nil {
		return c, fmt.Errorf("get carrier: %w", err)
	}
	return c, nil
}

// Carriers lists tracked carriers, most recently seen first.
func (s *Session) Carriers(ctx context.Context) ([]bastion.TrackedCarrier, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, squad, system, prev_system, override, updated_at
		 FROM carriers ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list carriers: %w", err)
	}
	defer rows.Close()

	var out []bastion.TrackedCarrier
	for rows.Next() {
		c, err := scanCarrier(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan carrier: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CarriersSeenSince lists carriers seen at or after the cutoff.
func (s *Session) CarriersSeenSince(ctx context.Context, cutoff time.Time) ([]bastion.TrackedCarrier, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, squad, system, prev_system, override, updated_at
		 FROM carriers WHERE updated_at >= ? ORDER BY updated_at DESC, id`,
		cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("carriers seen since: %w", err)
	}
	defer rows.Close()

	var out []bastion.TrackedCarrier
	for rows.Next() {
		c, err := scanCarrier(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan carrier: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCarrierOverride pins (or unpins) a carrier so it keeps being tracked
// outside watched space and survives reaping.
func (s *Session) SetCarrierOverride(ctx context.Context, id string, override bool) error {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE carriers SET override = ? WHERE id = ?`, boolToInt(override), id)
	if err != nil {
		return fmt.Errorf("set carrier override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &bastion.NoMatchError{Kind: "carrier", Needle: id}
	}
	return nil
}

// RemoveCarrier drops a carrier from tracking.
func (s *Session) RemoveCarrier(ctx context.Context, id string) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM carriers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove carrier: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &bastion.NoMatchError{Kind: "carrier", Needle: id}
	}
	return nil
}

// ReapCarriers deletes non-override carriers unseen since the cutoff.
// Returns the callsigns removed.
func (s *Session) ReapCarriers(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id FROM carriers WHERE override = 0 AND updated_at < ?`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("reap carriers: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan carrier id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) > 0 {
		_, err = s.tx.ExecContext(ctx,
			`DELETE FROM carriers WHERE override = 0 AND updated_at < ?`, cutoff.Unix())
		if err != nil {
			return nil, fmt.Errorf("reap carriers delete: %w", err)
		}
	}
	return ids, nil
}

func scanCarrier(scan func(dest ...any) error) (bastion.TrackedCarrier, error) {
	var c bastion.TrackedCarrier
	var override int
	var updated int64
	err := scan(&c.ID, &c.Squad, &c.System, &c.PrevSystem, &override, &updated)
	if err != nil {
		return c, err
	}
	c.Override = override != 0
	c.UpdatedAt = time.Unix(updated, 0)
	return c, nil
}
