package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bastionbot/bastion"
)

// Feed snapshots use newer-timestamp-wins upserts: messages can arrive
// out of order and a stale snapshot must never clobber a fresher one.

// UpsertSpySystem records a control-system bar snapshot.
func (s *Session) UpsertSpySystem(ctx context.Context, sys bastion.SpySystem) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO spy_systems
		 (name, power, fort, fort_trig, um, um_trig, income, upkeep, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   power = excluded.power, fort = excluded.fort, fort_trig = excluded.fort_trig,
		   um = excluded.um, um_trig = excluded.um_trig,
		   income = excluded.income, upkeep = excluded.upkeep,
		   updated_at = excluded.updated_at
		 WHERE excluded.updated_at >= spy_systems.updated_at`,
		sys.Name, sys.Power, sys.Fort, sys.FortTrig, sys.Um, sys.UmTrig,
		sys.Income, sys.Upkeep, sys.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert spy system: %w", err)
	}
	return nil
}

// SpySystemByName resolves a substring against snapshot system names.
func (s *Session) SpySystemByName(ctx context.Context, needle string) (bastion.SpySystem, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT name FROM spy_systems ORDER BY name`)
	if err != nil {
		return bastion.SpySystem{}, fmt.Errorf("list spy systems: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return bastion.SpySystem{}, fmt.Errorf("scan spy system name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return bastion.SpySystem{}, err
	}
	rows.Close()

	i, err := pickMatch("system", needle, names)
	if err != nil {
		return bastion.SpySystem{}, err
	}
	return s.spySystem(ctx, names[i])
}

func (s *Session) spySystem(ctx context.Context, name string) (bastion.SpySystem, error) {
	var sys bastion.SpySystem
	var updated int64
	err := s.tx.QueryRowContext(ctx,
		`SELECT name, power, fort, fort_trig, um, um_trig, income, upkeep, updated_at
		 FROM spy_systems WHERE name = ?`, name).
		Scan(&sys.Name, &sys.Power, &sys.Fort, &sys.FortTrig, &sys.Um, &sys.UmTrig,
			&sys.Income, &sys.Upkeep, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return sys, &bastion.NoMatchError{Kind: "system", Needle: name}
	}
	if err != nil {
		return sys, fmt.Errorf("get spy system: %w", err)
	}
	sys.UpdatedAt = time.Unix(updated, 0)
	return sys, nil
}

// UpsertSpyVote records a power's consolidation vote percentage.
func (s *Session) UpsertSpyVote(ctx context.Context, v bastion.SpyVote) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO spy_votes (power, vote, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(power) DO UPDATE SET
		   vote = excluded.vote, updated_at = excluded.updated_at
		 WHERE excluded.updated_at >= spy_votes.updated_at`,
		v.Power, v.Vote, v.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert spy vote: %w", err)
	}
	return nil
}

// SpyVote returns one power's latest vote snapshot.
func (s *Session) SpyVote(ctx context.Context, power string) (bastion.SpyVote, error) {
	var v bastion.SpyVote
	var updated int64
	err := s.tx.QueryRowContext(ctx,
		`SELECT power, vote, updated_at FROM spy_votes WHERE power = ?`, power).
		Scan(&v.Power, &v.Vote, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return v, &bastion.NoMatchError{Kind: "power", Needle: power}
	}
	if err != nil {
		return v, fmt.Errorf("get spy vote: %w", err)
	}
	v.UpdatedAt = time.Unix(updated, 0)
	return v, nil
}

// UpsertSpyPrep records preparation merits for a candidate system.
func (s *Session) UpsertSpyPrep(ctx context.Context, p bastion.SpyPrep) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO spy_preps (system, power, merits, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(system, power) DO UPDATE SET
		   merits = excluded.merits, updated_at = excluded.updated_at
		 WHERE excluded.updated_at >= spy_preps.updated_at`,
		p.System, p.Power, p.Merits, p.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert spy prep: %w", err)
	}
	return nil
}

// SpyPreps lists prep snapshots for one system, merits descending.
func (s *Session) SpyPreps(ctx context.Context, system string) ([]bastion.SpyPrep, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT system, power, merits, updated_at FROM spy_preps
		 WHERE system = ? ORDER BY merits DESC, power`, system)
	if err != nil {
		return nil, fmt.Errorf("list spy preps: %w", err)
	}
	defer rows.Close()

	var out []bastion.SpyPrep
	for rows.Next() {
		var p bastion.SpyPrep
		var updated int64
		if err := rows.Scan(&p.System, &p.Power, &p.Merits, &updated); err != nil {
			return nil, fmt.Errorf("scan spy prep: %w", err)
		}
		p.UpdatedAt = time.Unix(updated, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertSpyTraffic records a daily traffic count snapshot.
func (s *Session) UpsertSpyTraffic(ctx context.Context, t bastion.SpyTraffic) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO spy_traffic (system, day, total, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(system) DO UPDATE SET
		   day = excluded.day, total = excluded.total, updated_at = excluded.updated_at
		 WHERE excluded.updated_at >= spy_traffic.updated_at`,
		t.System, t.Day, t.Total, t.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert spy traffic: %w", err)
	}
	return nil
}

// SpyTrafficFor returns one system's traffic snapshot.
func (s *Session) SpyTrafficFor(ctx context.Context, system string) (bastion.SpyTraffic, error) {
	var t bastion.SpyTraffic
	var updated int64
	err := s.tx.QueryRowContext(ctx,
		`SELECT system, day, total, updated_at FROM spy_traffic WHERE system = ?`, system).
		Scan(&t.System, &t.Day, &t.Total, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return t, &bastion.NoMatchError{Kind: "system", Needle: system}
	}
	if err != nil {
		return t, fmt.Errorf("get spy traffic: %w", err)
	}
	t.UpdatedAt = time.Unix(updated, 0)
	return t, nil
}

// ReplaceSpyBounties swaps a system's top-bounty table atomically.
func (s *Session) ReplaceSpyBounties(ctx context.Context, system string, bounties []bastion.SpyBounty) error {
	if _, err := s.tx.ExecContext(ctx,
		`DELETE FROM spy_bounties WHERE system = ?`, system); err != nil {
		return fmt.Errorf("clear spy bounties: %w", err)
	}
	for _, b := range bounties {
		_, err := s.tx.ExecContext(ctx,
			`INSERT INTO spy_bounties (system, pos, cmdr, ship, bounty, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			system, b.Pos, b.Cmdr, b.Ship, b.Bounty, b.UpdatedAt.Unix())
		if err != nil {
			return fmt.Errorf("insert spy bounty: %w", err)
		}
	}
	return nil
}

// SpyBounties lists one system's bounty table in position order.
func (s *Session) SpyBounties(ctx context.Context, system string) ([]bastion.SpyBounty, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT system, pos, cmdr, ship, bounty, updated_at
		 FROM spy_bounties WHERE system = ? ORDER BY pos`, system)
	if err != nil {
		return nil, fmt.Errorf("list spy bounties: %w", err)
	}
	defer rows.Close()

	var out []bastion.SpyBounty
	for rows.Next() {
		var b bastion.SpyBounty
		var updated int64
		if err := rows.Scan(&b.System, &b.Pos, &b.Cmdr, &b.Ship, &b.Bounty, &updated); err != nil {
			return nil, fmt.Errorf("scan spy bounty: %w", err)
		}
		b.UpdatedAt = time.Unix(updated, 0)
		out = append(out, b)
	}
	return out, rows.Err()
}
