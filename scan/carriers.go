package scan

import (
	"context"
	"time"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// Carrier-id sheet layout: header in row 1, (callsign, squadron) rows
// from row 2.
const carrierFirstRow = 2

// Carriers scans the known hostile carrier roster. Unlike the other
// scanners it feeds a dispatcher-owned table: sighting data accumulated
// by the feed survives a rescan, only squad labels refresh.
type Carriers struct {
	*base
}

// NewCarriers builds the carrier-id scanner.
func NewCarriers(client bastion.SheetClient, opts ...Option) *Carriers {
	return &Carriers{base: newBase("carriers", client, opts...)}
}

var _ Scanner = (*Carriers)(nil)

func (c *Carriers) Scan(ctx context.Context, sess *store.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	count := 0
	for row := carrierFirstRow; row <= c.height(); row++ {
		id := c.cell(row, 1)
		if id == "" {
			continue
		}
		if len(id) != bastion.CarrierIDLen {
			return &bastion.SheetParseError{
				Sheet: c.name,
				Msg:   "callsign " + id + " is not " + formatAmount(bastion.CarrierIDLen) + " characters",
				Rows:  []int{row},
			}
		}
		if err := sess.EnsureCarrierSquad(ctx, id, c.cell(row, 2), now); err != nil {
			return err
		}
		count++
	}
	c.logger.Info("scan: carriers parsed", "carriers", count)
	return nil
}

// IDUpdate renders a roster row for a newly tracked carrier.
func (c *Carriers) IDUpdate(id, squad string) bastion.Update {
	c.mu.Lock()
	defer c.mu.Unlock()

	row := carrierFirstRow
	for r := carrierFirstRow; r <= c.height(); r++ {
		if c.cell(r, 1) != "" {
			row = r + 1
		}
	}
	return bastion.Update{
		Range:  spanRange("A", row, "B", row),
		Values: [][]string{{id, squad}},
	}
}
