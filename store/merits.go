package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RankedAmount is one row of a leaderboard. Equal amounts share a rank;
// the next distinct amount takes the following ordinal.
type RankedAmount struct {
	Rank   int
	Name   string
	Amount int
}

// TopFortMerits ranks contributors by summed fort amounts, largest first.
// limit <= 0 means unlimited.
func (s *Session) TopFortMerits(ctx context.Context, limit int) ([]RankedAmount, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT fc.name, COALESCE(SUM(c.amount), 0) AS total
		 FROM fort_contributors fc
		 LEFT JOIN fort_contributions c ON c.contributor_id = fc.id
		 GROUP BY fc.name
		 HAVING total > 0
		 ORDER BY total DESC, fc.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("top fort merits: %w", err)
	}
	defer rows.Close()
	return collectRanked(rows, limit)
}

// TopUmMerits ranks contributors by summed held plus redeemed merits
// across both undermine sheets.
func (s *Session) TopUmMerits(ctx context.Context, limit int) ([]RankedAmount, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT uc.name, COALESCE(SUM(c.held + c.redeemed), 0) AS total
		 FROM um_contributors uc
		 LEFT JOIN um_contributions c ON c.contributor_id = uc.id
		 GROUP BY uc.name
		 HAVING total > 0
		 ORDER BY total DESC, uc.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("top um merits: %w", err)
	}
	defer rows.Close()
	return collectRanked(rows, limit)
}

// TopMerits ranks contributors by combined fort and undermine merits.
// Fort and undermine rows are matched by sheet name.
func (s *Session) TopMerits(ctx context.Context, limit int) ([]RankedAmount, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT name, SUM(total) AS grand FROM (
		   SELECT fc.name AS name, COALESCE(SUM(c.amount), 0) AS total
		   FROM fort_contributors fc
		   LEFT JOIN fort_contributions c ON c.contributor_id = fc.id
		   GROUP BY fc.name
		   UNION ALL
		   SELECT uc.name AS name, COALESCE(SUM(c.held + c.redeemed), 0) AS total
		   FROM um_contributors uc
		   LEFT JOIN um_contributions c ON c.contributor_id = uc.id
		   GROUP BY uc.name
		 )
		 GROUP BY name
		 HAVING grand > 0
		 ORDER BY grand DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("top merits: %w", err)
	}
	defer rows.Close()
	return collectRanked(rows, limit)
}

func collectRanked(rows *sql.Rows, limit int) ([]RankedAmount, error) {
	var out []RankedAmount
	rank, prev := 0, -1
	for rows.Next() {
		var r RankedAmount
		if err := rows.Scan(&r.Name, &r.Amount); err != nil {
			return nil, fmt.Errorf("scan ranked amount: %w", err)
		}
		if r.Amount != prev {
			rank++
			prev = r.Amount
		}
		r.Rank = rank
		if limit > 0 && rank > limit {
			break
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
