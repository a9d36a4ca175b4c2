package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/selector"
	"github.com/bastionbot/bastion/store"
)

// cmdFort reports and adjusts fortification targets.
func (d *Dispatcher) cmdFort(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	p := parseArgs(args, "next", "miss", "set", "order")
	if err := p.only("next", "miss", "set", "order", "details", "summary"); err != nil {
		return "", err
	}

	var reply string
	err := d.store.With(ctx, func(sess *store.Session) error {
		switch {
		case p.has("order"):
			if err := d.requireAdmin(ctx, sess, ev); err != nil {
				return err
			}
			names := splitList(p.flags["order"])
			if len(names) == 1 && strings.EqualFold(names[0], "clear") {
				names = nil
			}
			if err := sess.ReplaceFortOrder(ctx, names); err != nil {
				return err
			}
			if len(names) == 0 {
				reply = "manual fort order cleared, back to sheet order"
			} else {
				reply = "manual fort order set: " + strings.Join(names, ", ")
			}
			return nil

		case p.has("set"):
			if err := d.requireAdmin(ctx, sess, ev); err != nil {
				return err
			}
			if p.rest(0) == "" {
				return bastion.Argf("which system? try: %sfort --set 4100:200 Sol", d.cfg.Prefix)
			}
			fort, um, err := parseStatusPair(p.flags["set"])
			if err != nil {
				return err
			}
			t, err := sess.FortTargetByName(ctx, p.rest(0))
			if err != nil {
				return err
			}
			if err := sess.UpdateFortTargetStatus(ctx, t.ID, fort, um); err != nil {
				return err
			}
			t.FortStatus, t.UmStatus = fort, um
			d.scanners.Fort.Enqueue(d.scanners.Fort.StatusUpdates(t)...)
			reply = fmt.Sprintf("%s set to %s fort / %s um", t.Name, d.num(fort), d.num(um))
			return nil

		case p.has("summary"):
			var err error
			reply, err = d.fortSummary(ctx, sess)
			return err

		case p.has("details"):
			if p.rest(0) == "" {
				return bastion.Argf("which system? try: %sfort --details Sol", d.cfg.Prefix)
			}
			t, err := sess.FortTargetByName(ctx, p.rest(0))
			if err != nil {
				return err
			}
			contribs, err := sess.FortContributionsFor(ctx, t.ID)
			if err != nil {
				return err
			}
			var b strings.Builder
			b.WriteString(d.fortLine(t) + "\n")
			for _, c := range contribs {
				fmt.Fprintf(&b, "  %-24s %s\n", c.Name, d.num(c.Amount))
			}
			if len(contribs) == 0 {
				b.WriteString("  no contributions recorded\n")
			}
			reply = b.String()
			return nil

		case p.has("next"):
			n, err := p.intFlag("next", 3)
			if err != nil {
				return err
			}
			targets, err := selector.Next(ctx, sess, n, d.cfg.DeferThreshold)
			if err != nil {
				return err
			}
			reply = d.targetList("Upcoming targets", targets)
			return nil

		case p.has("miss"):
			n, err := p.intFlag("miss", d.cfg.DeferThreshold)
			if err != nil {
				return err
			}
			targets, err := selector.MissUnder(ctx, sess, n)
			if err != nil {
				return err
			}
			reply = d.targetList(fmt.Sprintf("Missing %s or fewer", d.num(n)), targets)
			return nil

		case len(p.pos) > 0:
			t, err := sess.FortTargetByName(ctx, p.rest(0))
			if err != nil {
				return err
			}
			reply = d.fortLine(t)
			return nil

		default:
			targets, err := selector.Current(ctx, sess, d.cfg.DeferThreshold)
			if err != nil {
				return err
			}
			reply = d.targetList("Current fort targets", targets)
			return nil
		}
	})
	return reply, err
}

// cmdDrop records merits against the current or named fort target.
// Negative amounts back out a mistake; both sides clamp at zero.
func (d *Dispatcher) cmdDrop(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	p := parseArgs(args)
	if err := p.only(); err != nil {
		return "", err
	}
	if len(p.pos) < 1 {
		return "", bastion.Argf("usage: %sdrop AMOUNT [SYSTEM]", d.cfg.Prefix)
	}
	amount, err := parseSignedAmount(p.pos[0])
	if err != nil {
		return "", err
	}
	if amount == 0 || amount > d.cfg.MaxDrop || amount < -d.cfg.MaxDrop {
		return "", bastion.Argf("drop amount %d outside ±%d", amount, d.cfg.MaxDrop)
	}

	var reply string
	err = d.store.With(ctx, func(sess *store.Session) error {
		user, err := d.actor(ctx, sess, ev)
		if err != nil {
			return err
		}
		contrib, err := d.fortContributor(ctx, sess, user)
		if err != nil {
			return err
		}

		var target bastion.FortTarget
		if needle := p.rest(1); needle != "" {
			target, err = sess.FortTargetByName(ctx, needle)
		} else {
			target, err = d.currentPrimary(ctx, sess)
		}
		if err != nil {
			return err
		}

		wasFortified := target.IsFortified()
		after, err := sess.DropFort(ctx, contrib.ID, target.ID, amount)
		if err != nil {
			return err
		}
		total, err := sess.FortContributionFor(ctx, contrib.ID, target.ID)
		if err != nil {
			return err
		}
		d.scanners.Fort.Enqueue(d.scanners.Fort.DropUpdate(contrib.Row, after.Column, total))
		d.scanners.Fort.Enqueue(d.scanners.Fort.StatusUpdates(after)...)

		reply = fmt.Sprintf("%s drops %s at %s: %s/%s",
			user.PrefName, d.num(amount), after.Name,
			d.num(after.CurrentStatus()), d.num(after.Trigger))
		if !wasFortified && after.IsFortified() {
			congrats, err := d.fortifiedBanner(ctx, sess, after, user)
			if err != nil {
				return err
			}
			reply += "\n" + congrats
		}
		return nil
	})
	return reply, err
}

// currentPrimary resolves the drop default: the first current target.
func (d *Dispatcher) currentPrimary(ctx context.Context, sess *store.Session) (bastion.FortTarget, error) {
	targets, err := selector.Current(ctx, sess, d.cfg.DeferThreshold)
	if err != nil {
		return bastion.FortTarget{}, err
	}
	if len(targets) == 0 {
		return bastion.FortTarget{}, &bastion.NoMatchError{Kind: "system", Needle: "current target"}
	}
	return targets[0], nil
}

// fortifiedBanner celebrates a completion: the dropper's cry, every
// contributor tied for the top amount, and the next call.
func (d *Dispatcher) fortifiedBanner(ctx context.Context, sess *store.Session, t bastion.FortTarget, user bastion.ChatUser) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is fortified!", t.Name)
	if user.PrefCry != "" {
		b.WriteString(" " + user.PrefCry)
	}

	contribs, err := sess.FortContributionsFor(ctx, t.ID)
	if err != nil {
		return "", err
	}
	if len(contribs) > 0 {
		top := contribs[0].Amount
		var names []string
		for _, c := range contribs {
			if c.Amount != top {
				break
			}
			names = append(names, c.Name)
		}
		fmt.Fprintf(&b, "\nTop contributor%s: %s with %s merits",
			plural(len(names)), strings.Join(names, ", "), d.num(top))
	}

	next, err := selector.Current(ctx, sess, d.cfg.DeferThreshold)
	if err != nil {
		return "", err
	}
	if len(next) > 0 {
		fmt.Fprintf(&b, "\nNext target: %s", d.fortLine(next[0]))
	}
	return b.String(), nil
}

func (d *Dispatcher) fortSummary(ctx context.Context, sess *store.Session) (string, error) {
	states, err := selector.ByState(ctx, sess)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	section := func(label string, targets []bastion.FortTarget) {
		if len(targets) == 0 {
			return
		}
		names := make([]string, len(targets))
		for i, t := range targets {
			names[i] = t.Name
		}
		fmt.Fprintf(&b, "%s (%d): %s\n", label, len(targets), strings.Join(names, ", "))
	}
	section("Fortified", states.Fortified)
	section("Undermined", states.Undermined)
	section("Cancelled", states.Cancelled)
	section("Skipped", states.Skipped)
	section("Left", states.Left)
	if b.Len() == 0 {
		return "nothing to report yet this cycle", nil
	}
	return b.String(), nil
}

// fortLine renders one target for replies.
func (d *Dispatcher) fortLine(t bastion.FortTarget) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s/%s", t.Name, d.num(t.CurrentStatus()), d.num(t.Trigger))
	switch {
	case t.IsFortified():
		b.WriteString(" fortified")
	default:
		fmt.Fprintf(&b, " (%s missing)", d.num(t.Missing()))
	}
	if t.Kind == bastion.FortKindPrep {
		b.WriteString(" [prep]")
	}
	if t.IsMedium() {
		b.WriteString(" [s/m pads]")
	}
	if t.Distance > 0 {
		fmt.Fprintf(&b, " %.1f ly", t.Distance)
	}
	if t.Notes != "" {
		b.WriteString(" | " + t.Notes)
	}
	return b.String()
}

func (d *Dispatcher) targetList(header string, targets []bastion.FortTarget) string {
	if len(targets) == 0 {
		return header + ": none"
	}
	lines := make([]string, 0, len(targets)+1)
	lines = append(lines, header+":")
	for _, t := range targets {
		lines = append(lines, "  "+d.fortLine(t))
	}
	return strings.Join(lines, "\n")
}

// requireAdmin gates a subcommand of an otherwise open command.
func (d *Dispatcher) requireAdmin(ctx context.Context, sess *store.Session, ev bastion.Event) error {
	ok, err := sess.IsAdmin(ctx, ev.Author)
	if err != nil {
		return err
	}
	if !ok {
		return &bastion.PermissionError{Msg: "admins only"}
	}
	return nil
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
