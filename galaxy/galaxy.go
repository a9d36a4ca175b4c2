// Package galaxy answers distance queries against the static system
// catalog. The reference database is read once at open; queries run
// against the in-memory position table.
package galaxy

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/bastionbot/bastion"
)

type position struct {
	name    string
	x, y, z float64
}

// Catalog holds every catalogued system's position in memory.
type Catalog struct {
	systems []position
	byName  map[string]int // lower-cased name -> systems index
}

var _ bastion.Catalog = (*Catalog)(nil)

// Open loads the reference database. The systems table carries
// (name, x, y, z) with coordinates in light years.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	start := time.Now()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("galaxy: open %s: %w", path, err)
	}
	defer db.Close() //nolint:errcheck

	rows, err := db.QueryContext(ctx, `SELECT name, x, y, z FROM systems`)
	if err != nil {
		return nil, fmt.Errorf("galaxy: read systems: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	c := &Catalog{byName: map[string]int{}}
	for rows.Next() {
		var p position
		if err := rows.Scan(&p.name, &p.x, &p.y, &p.z); err != nil {
			return nil, fmt.Errorf("galaxy: scan system: %w", err)
		}
		c.byName[strings.ToLower(p.name)] = len(c.systems)
		c.systems = append(c.systems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("galaxy: read systems: %w", err)
	}
	logger.Info("galaxy: catalog loaded", "systems", len(c.systems), "elapsed", time.Since(start))
	return c, nil
}

// SystemsWithin returns the names of all systems within ly light years
// of the centre, the centre included.
func (c *Catalog) SystemsWithin(centre string, ly float64) ([]string, error) {
	o, err := c.lookup(centre)
	if err != nil {
		return nil, err
	}
	limit := ly * ly
	var out []string
	for _, p := range c.systems {
		dx, dy, dz := p.x-o.x, p.y-o.y, p.z-o.z
		if dx*dx+dy*dy+dz*dz <= limit {
			out = append(out, p.name)
		}
	}
	return out, nil
}

// Distance returns the straight-line distance between two systems.
func (c *Catalog) Distance(a, b string) (float64, error) {
	pa, err := c.lookup(a)
	if err != nil {
		return 0, err
	}
	pb, err := c.lookup(b)
	if err != nil {
		return 0, err
	}
	dx, dy, dz := pa.x-pb.x, pa.y-pb.y, pa.z-pb.z
	return math.Sqrt(dx*dx + dy*dy + dz*dz), nil
}

func (c *Catalog) lookup(name string) (position, error) {
	i, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return position{}, &bastion.NoMatchError{Kind: "system", Needle: name}
	}
	return c.systems[i], nil
}
