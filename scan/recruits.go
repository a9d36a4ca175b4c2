package scan

import (
	"context"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// Recruit roster layout: header in row 1, one name per row from row 2.
const recruitFirstRow = 2

// Recruits scans the recruit roster used by the merit leaderboards.
type Recruits struct {
	*base
}

// NewRecruits builds the recruit-roster scanner.
func NewRecruits(client bastion.SheetClient, opts ...Option) *Recruits {
	return &Recruits{base: newBase("recruits", client, opts...)}
}

var _ Scanner = (*Recruits)(nil)

func (r *Recruits) Scan(ctx context.Context, sess *store.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := map[string]int{}
	for row := recruitFirstRow; row <= r.height(); row++ {
		if name := r.cell(row, 1); name != "" {
			names[name] = row
		}
	}
	if err := sess.DropRecruits(ctx); err != nil {
		return err
	}
	if err := sess.InsertRecruits(ctx, names); err != nil {
		return err
	}
	r.logger.Info("scan: recruits parsed", "recruits", len(names))
	return nil
}
