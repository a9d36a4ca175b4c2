package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// DefaultSummaryInterval is how often the housekeeping task runs.
const DefaultSummaryInterval = time.Minute

// digestEvery is the spacing between carrier digests.
const digestEvery = 24 * time.Hour

// Summarize is the periodic housekeeping run: reap carriers unseen for
// longer than the retention window, post the carriers seen since the
// previous run, and once a day post a register digest. Registered with
// the task supervisor.
func (i *Ingester) Summarize(ctx context.Context) error {
	now := time.Now()
	var reaped []string
	var carriers []bastion.TrackedCarrier
	err := i.store.With(ctx, func(sess *store.Session) error {
		var err error
		reaped, err = sess.ReapCarriers(ctx, now.Add(-bastion.CarrierReapAge))
		if err != nil {
			return err
		}
		carriers, err = sess.Carriers(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("feed: summarize: %w", err)
	}
	if len(reaped) > 0 {
		i.logger.Info("feed: carriers reaped", "count", len(reaped), "ids", strings.Join(reaped, ","))
	}

	i.mu.Lock()
	since := i.lastSummary
	i.lastSummary = now
	i.mu.Unlock()
	channel := i.alertTo()

	var seen []bastion.TrackedCarrier
	for _, c := range carriers {
		if c.UpdatedAt.After(since) {
			seen = append(seen, c)
		}
	}
	if channel != "" && len(seen) > 0 {
		var b strings.Builder
		b.WriteString("carriers seen since last summary:")
		for _, c := range seen {
			fmt.Fprintf(&b, "\n  %s in %s", carrierLabel(c), c.System)
		}
		if _, err := i.transport.Send(ctx, channel, b.String()); err != nil {
			return fmt.Errorf("feed: summary send: %w", err)
		}
	}

	if !i.digestDue(now) {
		return nil
	}
	if channel == "" {
		return nil
	}

	i.mu.Lock()
	moves, msgs := i.movesSeen, i.msgsSeen
	i.movesSeen, i.msgsSeen = 0, 0
	i.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "carrier digest: %d on the register, %d moves since last digest (%d feed messages)",
		len(carriers), moves, msgs)
	for _, c := range carriers {
		if now.Sub(c.UpdatedAt) >= digestEvery {
			continue
		}
		if c.PrevSystem != "" && c.PrevSystem != c.System {
			fmt.Fprintf(&b, "\n  %s: %s to %s", carrierLabel(c), c.PrevSystem, c.System)
		} else {
			fmt.Fprintf(&b, "\n  %s in %s", carrierLabel(c), c.System)
		}
	}
	if _, err := i.transport.Send(ctx, channel, b.String()); err != nil {
		return fmt.Errorf("feed: digest send: %w", err)
	}
	return nil
}

func carrierLabel(c bastion.TrackedCarrier) string {
	if c.Squad != "" {
		return c.ID + " (" + c.Squad + ")"
	}
	return c.ID
}

// digestDue reports and advances the daily digest clock.
func (i *Ingester) digestDue(now time.Time) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.lastDigest.IsZero() {
		// First run after boot: start the clock, no digest yet.
		i.lastDigest = now
		return false
	}
	if now.Sub(i.lastDigest) < digestEvery {
		return false
	}
	i.lastDigest = now
	return true
}
