package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/selector"
	"github.com/bastionbot/bastion/store"
)

// cmdUm reports and adjusts undermining targets across both documents.
func (d *Dispatcher) cmdUm(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	p := parseArgs(args, "set", "offset", "priority")
	if err := p.only("set", "offset", "priority", "list", "npcs"); err != nil {
		return "", err
	}

	var reply string
	err := d.store.With(ctx, func(sess *store.Session) error {
		switch {
		case p.has("set"):
			if err := d.requireAdmin(ctx, sess, ev); err != nil {
				return err
			}
			if p.rest(0) == "" {
				return bastion.Argf("which system? try: %sum --set 3000:45%% Rhea", d.cfg.Prefix)
			}
			usRaw, themRaw, err := parsePair(p.flags["set"])
			if err != nil {
				return err
			}
			us, err := parseSignedAmount(usRaw)
			if err != nil || us < 0 {
				return bastion.Argf("bad progress %q", usRaw)
			}
			them, err := parsePercent(themRaw)
			if err != nil {
				return err
			}
			t, err := sess.UmTargetByName(ctx, p.rest(0))
			if err != nil {
				return err
			}
			if err := sess.SetUmProgress(ctx, t.ID, us, them); err != nil {
				return err
			}
			t.ProgressUs, t.ProgressThem = us, them
			um := d.umScanner(t.Sheet)
			um.Enqueue(um.ProgressUpdates(t)...)
			reply = fmt.Sprintf("%s progress set to %s us / %.0f%% them", t.Name, d.num(us), them*100)
			return nil

		case p.has("offset"):
			if err := d.requireAdmin(ctx, sess, ev); err != nil {
				return err
			}
			offset, err := p.intFlag("offset", 0)
			if err != nil {
				return err
			}
			t, err := sess.UmTargetByName(ctx, p.rest(0))
			if err != nil {
				return err
			}
			if err := sess.SetUmOffset(ctx, t.ID, offset); err != nil {
				return err
			}
			t.MapOffset = offset
			um := d.umScanner(t.Sheet)
			um.Enqueue(um.OffsetUpdate(t))
			reply = fmt.Sprintf("%s map offset set to %s", t.Name, d.num(offset))
			return nil

		case p.has("priority"):
			if err := d.requireAdmin(ctx, sess, ev); err != nil {
				return err
			}
			t, err := sess.UmTargetByName(ctx, p.rest(0))
			if err != nil {
				return err
			}
			priority := p.flags["priority"]
			if err := sess.SetUmPriority(ctx, t.ID, priority); err != nil {
				return err
			}
			t.Priority = priority
			um := d.umScanner(t.Sheet)
			um.Enqueue(um.PriorityUpdate(t))
			if priority == "" {
				reply = t.Name + " priority cleared"
			} else {
				reply = fmt.Sprintf("%s priority set to %q", t.Name, priority)
			}
			return nil

		case p.has("list"):
			targets, err := sess.UmTargets(ctx, "")
			if err != nil {
				return err
			}
			reply = d.umTable(targets)
			return nil

		case p.has("npcs"):
			var err error
			reply, err = d.umSpyReport(ctx, sess)
			return err

		case len(p.pos) > 0:
			t, err := sess.UmTargetByName(ctx, p.rest(0))
			if err != nil {
				return err
			}
			contribs, err := sess.UmContributionsFor(ctx, t.ID)
			if err != nil {
				return err
			}
			var b strings.Builder
			b.WriteString(d.umLine(t) + "\n")
			for _, c := range contribs {
				fmt.Fprintf(&b, "  %-24s %s\n", c.Name, d.num(c.Amount))
			}
			if len(contribs) == 0 {
				b.WriteString("  no merits recorded\n")
			}
			reply = b.String()
			return nil

		default:
			targets, err := selector.UmProgress(ctx, sess, "")
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				reply = "no undermining targets this cycle"
				return nil
			}
			lines := []string{"Undermining progress:"}
			for _, t := range targets {
				lines = append(lines, "  "+d.umLine(t))
			}
			reply = strings.Join(lines, "\n")
			return nil
		}
	})
	return reply, err
}

// cmdHold manages held and redeemed undermining merits.
func (d *Dispatcher) cmdHold(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	p := parseArgs(args, "redeem-systems")
	if err := p.only("died", "redeem", "redeem-systems"); err != nil {
		return "", err
	}

	var reply string
	err := d.store.With(ctx, func(sess *store.Session) error {
		user, err := d.actor(ctx, sess, ev)
		if err != nil {
			return err
		}

		switch {
		case p.has("died"):
			var err error
			reply, err = d.holdDied(ctx, sess, user)
			return err
		case p.has("redeem"), p.has("redeem-systems"):
			var err error
			reply, err = d.holdRedeem(ctx, sess, user, splitList(p.flags["redeem-systems"]))
			return err
		case len(p.pos) >= 2:
			var err error
			reply, err = d.holdSet(ctx, sess, user, p)
			return err
		case len(p.pos) == 0:
			var err error
			reply, err = d.holdList(ctx, sess, user)
			return err
		default:
			return bastion.Argf("usage: %shold AMOUNT SYSTEM, or %shold --died / --redeem", d.cfg.Prefix, d.cfg.Prefix)
		}
	})
	return reply, err
}

// holdSet records held merits against a target, enrolling the user on the
// owning document when needed.
func (d *Dispatcher) holdSet(ctx context.Context, sess *store.Session, user bastion.ChatUser, p *parsed) (string, error) {
	held, err := parseSignedAmount(p.pos[0])
	if err != nil {
		return "", err
	}
	if held < 0 {
		return "", bastion.Argf("held merits cannot be negative, got %d", held)
	}
	target, err := sess.UmTargetByName(ctx, p.rest(1))
	if err != nil {
		return "", err
	}
	contrib, err := d.umContributor(ctx, sess, target.Sheet, user)
	if err != nil {
		return "", err
	}
	if err := sess.SetHold(ctx, target.Sheet, contrib.ID, target.ID, held); err != nil {
		return "", err
	}
	um := d.umScanner(target.Sheet)
	um.Enqueue(um.HoldUpdate(contrib.Row, target.Column, held))

	refreshed, err := sess.UmTarget(ctx, target.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s holds %s at %s (%s)",
		user.PrefName, d.num(held), refreshed.Name, refreshed.Descriptor()), nil
}

// holdDied zeroes every holding: the cargo went down with the ship.
func (d *Dispatcher) holdDied(ctx context.Context, sess *store.Session, user bastion.ChatUser) (string, error) {
	lost, err := sess.DieHolds(ctx, user.PrefName)
	if err != nil {
		return "", err
	}
	total := 0
	for _, h := range lost {
		if h.Held == 0 {
			continue
		}
		total += h.Held
		if err := d.enqueueHoldCells(ctx, sess, user, h, 0, h.Redeemed); err != nil {
			return "", err
		}
	}
	if total == 0 {
		return user.PrefName + " had nothing held, nothing lost", nil
	}
	return fmt.Sprintf("o7 %s, %s held merits lost", user.PrefName, d.num(total)), nil
}

// holdRedeem moves held merits into redeemed, for every target or the
// named subset.
func (d *Dispatcher) holdRedeem(ctx context.Context, sess *store.Session, user bastion.ChatUser, systems []string) (string, error) {
	var targetIDs []int64
	for _, name := range systems {
		t, err := sess.UmTargetByName(ctx, name)
		if err != nil {
			return "", err
		}
		targetIDs = append(targetIDs, t.ID)
	}
	moved, err := sess.RedeemHolds(ctx, user.PrefName, targetIDs)
	if err != nil {
		return "", err
	}
	if len(moved) == 0 {
		return user.PrefName + " has nothing held to redeem", nil
	}
	total := 0
	var lines []string
	for _, h := range moved {
		total += h.Held
		if err := d.enqueueHoldCells(ctx, sess, user, h, 0, h.Redeemed+h.Held); err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("  %s: +%s", h.TargetName, d.num(h.Held)))
	}
	return fmt.Sprintf("%s redeems %s merits\n%s", user.PrefName, d.num(total), strings.Join(lines, "\n")), nil
}

// holdList shows the acting user's holdings across both documents.
func (d *Dispatcher) holdList(ctx context.Context, sess *store.Session, user bastion.ChatUser) (string, error) {
	holds, err := sess.HoldsFor(ctx, user.PrefName)
	if err != nil {
		return "", err
	}
	var lines []string
	heldTotal, redeemedTotal := 0, 0
	for _, h := range holds {
		if h.Held == 0 && h.Redeemed == 0 {
			continue
		}
		heldTotal += h.Held
		redeemedTotal += h.Redeemed
		lines = append(lines, fmt.Sprintf("  %-24s held %s, redeemed %s",
			h.TargetName, d.num(h.Held), d.num(h.Redeemed)))
	}
	if len(lines) == 0 {
		return user.PrefName + " has no undermining merits this cycle", nil
	}
	header := fmt.Sprintf("%s: %s held, %s redeemed", user.PrefName, d.num(heldTotal), d.num(redeemedTotal))
	return header + "\n" + strings.Join(lines, "\n"), nil
}

// enqueueHoldCells writes one holding's held and redeemed cells back to
// the owning document.
func (d *Dispatcher) enqueueHoldCells(ctx context.Context, sess *store.Session, user bastion.ChatUser, h store.HoldRow, held, redeemed int) error {
	contrib, err := sess.UmContributorByName(ctx, h.Sheet, user.PrefName)
	var noMatch *bastion.NoMatchError
	if errors.As(err, &noMatch) {
		// Holdings exist but the roster row is gone; the next scan
		// reconciles.
		return nil
	}
	if err != nil {
		return err
	}
	target, err := sess.UmTarget(ctx, h.TargetID)
	if err != nil {
		return err
	}
	um := d.umScanner(h.Sheet)
	um.Enqueue(um.HoldUpdate(contrib.Row, target.Column, held))
	redeemUpdate, err := um.RedeemUpdate(contrib.Row, target.Column, redeemed)
	if err != nil {
		return err
	}
	um.Enqueue(redeemUpdate)
	return nil
}

// umLine renders one undermine target for replies.
func (d *Dispatcher) umLine(t bastion.UmTarget) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", t.Name, t.Kind)
	if t.Sheet == bastion.UmSheetSnipe {
		b.WriteString(" [snipe]")
	}
	if t.Priority != "" {
		fmt.Fprintf(&b, " [priority %s]", t.Priority)
	}
	if t.Kind == bastion.UmKindControl {
		fmt.Fprintf(&b, ": %s/%s, %s", d.num(t.Merits()), d.num(t.Goal), t.Descriptor())
	} else {
		fmt.Fprintf(&b, ": %s", t.Descriptor())
	}
	return b.String()
}

func (d *Dispatcher) umTable(targets []bastion.UmTarget) string {
	if len(targets) == 0 {
		return "no undermining targets"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-9s %-5s %10s %10s %8s\n", "System", "Kind", "Sheet", "Merits", "Goal", "Them")
	for _, t := range targets {
		goal := t.Goal
		if t.Kind != bastion.UmKindControl {
			goal = t.ExpansionTrigger
		}
		fmt.Fprintf(&b, "%-24s %-9s %-5s %10s %10s %7.0f%%\n",
			t.Name, t.Kind, t.Sheet, d.num(t.Merits()), d.num(goal), t.ProgressThem*100)
	}
	return codeBlock(b.String())
}

// umSpyReport pairs each undermine target with its latest feed snapshot.
func (d *Dispatcher) umSpyReport(ctx context.Context, sess *store.Session) (string, error) {
	targets, err := sess.UmTargets(ctx, "")
	if err != nil {
		return "", err
	}
	var lines []string
	for _, t := range targets {
		spy, err := sess.SpySystemByName(ctx, t.Name)
		var noMatch *bastion.NoMatchError
		if errors.As(err, &noMatch) {
			continue
		}
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("  %s: fort %s/%s, um %s/%s (as of %s)",
			spy.Name, d.num(spy.Fort), d.num(spy.FortTrig),
			d.num(spy.Um), d.num(spy.UmTrig), spy.UpdatedAt.Format("Jan 2 15:04")))
	}
	if len(lines) == 0 {
		return "no feed snapshots for the current targets", nil
	}
	return "Feed snapshots:\n" + strings.Join(lines, "\n"), nil
}
