package dispatch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/selector"
	"github.com/bastionbot/bastion/store"
)

// cmdUser shows and edits the caller's profile.
func (d *Dispatcher) cmdUser(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	p := parseArgs(args, "name", "cry")
	if err := p.only("name", "cry"); err != nil {
		return "", err
	}

	var reply string
	err := d.store.With(ctx, func(sess *store.Session) error {
		user, err := d.actor(ctx, sess, ev)
		if err != nil {
			return err
		}
		changed := false
		if name, ok := p.flags["name"]; ok {
			if err := sess.SetPrefName(ctx, user.ID, name); err != nil {
				var integrity *bastion.IntegrityError
				if errors.As(err, &integrity) {
					return bastion.Argf("the name %q is already taken", name)
				}
				return err
			}
			user.PrefName = name
			changed = true
		}
		if cry, ok := p.flags["cry"]; ok {
			if err := sess.SetPrefCry(ctx, user.ID, cry); err != nil {
				return err
			}
			user.PrefCry = cry
			changed = true
		}
		if changed {
			reply = "profile updated\n" + d.profile(ctx, sess, user)
			return nil
		}
		reply = d.profile(ctx, sess, user)
		return nil
	})
	return reply, err
}

// cmdWhois looks a member up by preferred-name substring.
func (d *Dispatcher) cmdWhois(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	needle := strings.Join(args, " ")
	if needle == "" {
		return "", bastion.Argf("usage: %swhois NAME", d.cfg.Prefix)
	}
	var reply string
	err := d.store.With(ctx, func(sess *store.Session) error {
		user, err := sess.UserByPrefName(ctx, needle)
		if err != nil {
			return err
		}
		reply = d.profile(ctx, sess, user)
		return nil
	})
	return reply, err
}

// profile renders one member: identity, sheet rows, current holdings.
func (d *Dispatcher) profile(ctx context.Context, sess *store.Session, user bastion.ChatUser) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (display %s)", user.PrefName, user.DisplayName)
	if user.PrefCry != "" {
		fmt.Fprintf(&b, "\n  cry: %s", user.PrefCry)
	}
	if c, err := sess.FortContributorByName(ctx, user.PrefName); err == nil {
		fmt.Fprintf(&b, "\n  fort sheet row %d", c.Row)
	}
	for _, sheet := range []bastion.UmSheet{bastion.UmSheetMain, bastion.UmSheetSnipe} {
		if c, err := sess.UmContributorByName(ctx, sheet, user.PrefName); err == nil {
			fmt.Fprintf(&b, "\n  %s undermine row %d", sheet, c.Row)
		}
	}
	if holds, err := sess.HoldsFor(ctx, user.PrefName); err == nil {
		held, redeemed := 0, 0
		for _, h := range holds {
			held += h.Held
			redeemed += h.Redeemed
		}
		if held+redeemed > 0 {
			fmt.Fprintf(&b, "\n  undermining: %s held, %s redeemed", d.num(held), d.num(redeemed))
		}
	}
	if recruit, err := sess.IsRecruit(ctx, user.PrefName); err == nil && recruit {
		b.WriteString("\n  on the recruit roster")
	}
	return b.String()
}

// cmdDist measures distances: dist A, B or dist A (from home).
func (d *Dispatcher) cmdDist(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	if d.catalog == nil {
		return "", fmt.Errorf("dispatch: no galaxy catalog wired")
	}
	systems := splitList(strings.Join(args, " "))
	var a, b string
	switch len(systems) {
	case 1:
		if d.cfg.HomeSystem == "" {
			return "", bastion.Argf("usage: %sdist SYSTEM, SYSTEM", d.cfg.Prefix)
		}
		a, b = d.cfg.HomeSystem, systems[0]
	case 2:
		a, b = systems[0], systems[1]
	default:
		return "", bastion.Argf("usage: %sdist SYSTEM[, SYSTEM]", d.cfg.Prefix)
	}
	ly, err := d.catalog.Distance(a, b)
	if err != nil {
		return "", &bastion.NoMatchError{Kind: "system", Needle: a + " / " + b}
	}
	return fmt.Sprintf("%s to %s: %.2f ly", a, b, ly), nil
}

// cmdNear lists open campaign targets within range of a system, closest
// first. Fort targets by default, undermine targets with --um.
func (d *Dispatcher) cmdNear(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	if d.catalog == nil {
		return "", fmt.Errorf("dispatch: no galaxy catalog wired")
	}
	p := parseArgs(args, "ly")
	if err := p.only("um", "ly"); err != nil {
		return "", err
	}
	centre := p.rest(0)
	if centre == "" {
		return "", bastion.Argf("usage: %snear SYSTEM [--um] [--ly N]", d.cfg.Prefix)
	}
	radius, err := p.intFlag("ly", 40)
	if err != nil {
		return "", err
	}
	if _, err := d.catalog.Distance(centre, centre); err != nil {
		return "", &bastion.NoMatchError{Kind: "system", Needle: centre}
	}

	type hit struct {
		line string
		ly   float64
	}
	var hits []hit
	err = d.store.With(ctx, func(sess *store.Session) error {
		if p.has("um") {
			targets, err := sess.UmTargets(ctx, "")
			if err != nil {
				return err
			}
			for _, t := range targets {
				ly, err := d.catalog.Distance(centre, t.Name)
				if err != nil || ly > float64(radius) {
					// Targets missing from the catalog are skipped, not fatal.
					continue
				}
				hits = append(hits, hit{fmt.Sprintf("%s (%s) %.1f ly", t.Name, t.Descriptor(), ly), ly})
			}
			return nil
		}
		targets, err := sess.FortTargets(ctx)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if t.Kind != bastion.FortKindFort || t.IsFortified() {
				continue
			}
			ly, err := d.catalog.Distance(centre, t.Name)
			if err != nil || ly > float64(radius) {
				continue
			}
			hits = append(hits, hit{fmt.Sprintf("%s (%s/%s) %.1f ly",
				t.Name, d.num(t.CurrentStatus()), d.num(t.Trigger), ly), ly})
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return fmt.Sprintf("no open targets within %d ly of %s", radius, centre), nil
	}
	slices.SortFunc(hits, func(a, b hit) int { return cmp.Compare(a.ly, b.ly) })
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = h.line
	}
	return fmt.Sprintf("targets within %d ly of %s:\n  %s",
		radius, centre, strings.Join(lines, "\n  ")), nil
}

// cmdRoute totals the legs of a multi-system route.
func (d *Dispatcher) cmdRoute(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	if d.catalog == nil {
		return "", fmt.Errorf("dispatch: no galaxy catalog wired")
	}
	systems := splitList(strings.Join(args, " "))
	if len(systems) < 2 {
		return "", bastion.Argf("usage: %sroute A, B[, C...]", d.cfg.Prefix)
	}
	var b strings.Builder
	var total float64
	for i := 0; i+1 < len(systems); i++ {
		ly, err := d.catalog.Distance(systems[i], systems[i+1])
		if err != nil {
			return "", &bastion.NoMatchError{Kind: "system", Needle: systems[i] + " / " + systems[i+1]}
		}
		total += ly
		fmt.Fprintf(&b, "%s to %s: %.2f ly\n", systems[i], systems[i+1], ly)
	}
	fmt.Fprintf(&b, "total: %.2f ly over %d legs", total, len(systems)-1)
	return b.String(), nil
}

// cmdScout reports the latest feed snapshot for named systems.
func (d *Dispatcher) cmdScout(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	systems := splitList(strings.Join(args, " "))
	if len(systems) == 0 {
		return "", bastion.Argf("usage: %sscout SYSTEM[, SYSTEM...]", d.cfg.Prefix)
	}
	var lines []string
	err := d.store.With(ctx, func(sess *store.Session) error {
		for _, needle := range systems {
			spy, err := sess.SpySystemByName(ctx, needle)
			if err != nil {
				return err
			}
			age := time.Since(spy.UpdatedAt).Round(time.Minute)
			lines = append(lines, fmt.Sprintf("%s (%s): fort %s/%s, um %s/%s, seen %s ago",
				spy.Name, spy.Power, d.num(spy.Fort), d.num(spy.FortTrig),
				d.num(spy.Um), d.num(spy.UmTrig), age))
		}
		return nil
	})
	return strings.Join(lines, "\n"), err
}

// cmdTrigger reports fort and undermine triggers for named systems.
func (d *Dispatcher) cmdTrigger(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	systems := splitList(strings.Join(args, " "))
	if len(systems) == 0 {
		return "", bastion.Argf("usage: %strigger SYSTEM[, SYSTEM...]", d.cfg.Prefix)
	}
	var lines []string
	err := d.store.With(ctx, func(sess *store.Session) error {
		for _, needle := range systems {
			var parts []string
			if t, err := sess.FortTargetByName(ctx, needle); err == nil {
				parts = append(parts, fmt.Sprintf("fort trigger %s (status %s)", d.num(t.Trigger), d.num(t.CurrentStatus())))
				needle = t.Name
			}
			if t, err := sess.UmTargetByName(ctx, needle); err == nil {
				goal := t.Goal
				if t.Kind != bastion.UmKindControl {
					goal = t.ExpansionTrigger
				}
				parts = append(parts, fmt.Sprintf("um goal %s (%s)", d.num(goal), t.Descriptor()))
				needle = t.Name
			}
			if spy, err := sess.SpySystemByName(ctx, needle); err == nil {
				parts = append(parts, fmt.Sprintf("feed: fort %s/%s, um %s/%s",
					d.num(spy.Fort), d.num(spy.FortTrig), d.num(spy.Um), d.num(spy.UmTrig)))
				needle = spy.Name
			}
			if len(parts) == 0 {
				return &bastion.NoMatchError{Kind: "system", Needle: needle}
			}
			lines = append(lines, fmt.Sprintf("%s: %s", needle, strings.Join(parts, "; ")))
		}
		return nil
	})
	return strings.Join(lines, "\n"), err
}

// cycleTick returns the next weekly cycle rollover after now.
func cycleTick(now time.Time) time.Time {
	now = now.UTC()
	days := (int(time.Thursday) - int(now.Weekday()) + 7) % 7
	tick := time.Date(now.Year(), now.Month(), now.Day(), 7, 0, 0, 0, time.UTC).AddDate(0, 0, days)
	if !tick.After(now) {
		tick = tick.AddDate(0, 0, 7)
	}
	return tick
}

// cmdTime reports the countdown to the cycle tick.
func (d *Dispatcher) cmdTime(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	now := time.Now()
	tick := cycleTick(now)
	left := tick.Sub(now).Round(time.Minute)
	days := int(left.Hours()) / 24
	hours := int(left.Hours()) % 24
	mins := int(left.Minutes()) % 60
	return fmt.Sprintf("cycle ticks %s (in %dd %dh %dm)",
		tick.Format("Mon Jan 2 15:04 UTC"), days, hours, mins), nil
}

// cmdStatus summarizes the campaign at a glance.
func (d *Dispatcher) cmdStatus(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	var b strings.Builder
	err := d.store.With(ctx, func(sess *store.Session) error {
		g, err := sess.Global(ctx)
		if err != nil {
			return err
		}
		targets, err := sess.FortTargets(ctx)
		if err != nil {
			return err
		}
		fortified, forts := 0, 0
		for _, t := range targets {
			if t.Kind != bastion.FortKindFort {
				continue
			}
			forts++
			if t.IsFortified() {
				fortified++
			}
		}
		ums, err := sess.UmTargets(ctx, "")
		if err != nil {
			return err
		}
		undermined := 0
		for _, t := range ums {
			if t.IsUndermined() {
				undermined++
			}
		}
		carriers, err := sess.Carriers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "cycle %d", g.Cycle)
		if g.Consolidation > 0 {
			fmt.Fprintf(&b, ", consolidation %d%%", g.Consolidation)
		}
		fmt.Fprintf(&b, "\nfortified %d/%d, undermined %d/%d", fortified, forts, undermined, len(ums))
		fmt.Fprintf(&b, "\ncarriers on register: %d", len(carriers))
		current, err := selector.Current(ctx, sess, d.cfg.DeferThreshold)
		if err != nil {
			return err
		}
		if len(current) > 0 {
			fmt.Fprintf(&b, "\ncurrent call: %s", d.fortLine(current[0]))
		}
		return nil
	})
	return b.String(), err
}

// cmdFeedback records a suggestion for the maintainers.
func (d *Dispatcher) cmdFeedback(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	text := strings.Join(args, " ")
	if text == "" {
		return "", bastion.Argf("tell me what to pass on")
	}
	d.logger.Info("dispatch: feedback",
		"author", ev.Author, "author_name", ev.AuthorName, "text", text)
	if d.cfg.BroadcastChan != "" {
		d.reply(ctx, d.cfg.BroadcastChan, fmt.Sprintf("feedback from %s: %s", ev.AuthorName, text))
	}
	return "passed on, thanks", nil
}

// cmdDash shows the periodic-task dashboard.
func (d *Dispatcher) cmdDash(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	if d.sup == nil {
		return "", fmt.Errorf("dispatch: no supervisor wired")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "uptime %s\n", time.Since(d.started).Round(time.Second))
	fmt.Fprintf(&b, "%-20s %-10s %-8s %5s %5s %-16s %s\n", "Task", "Interval", "State", "Runs", "Fail", "Last run", "Last error")
	for _, st := range d.sup.StatusTable() {
		last := "never"
		if !st.LastRun.IsZero() {
			last = st.LastRun.Format("Jan 2 15:04:05")
		}
		state := "running"
		if !st.Running {
			state = "stopped"
			if st.StopCause != "" {
				state += " (" + st.StopCause + ")"
			}
		}
		fmt.Fprintf(&b, "%-20s %-10s %-8s %5d %5d %-16s %s\n",
			st.Name, st.Interval, state, st.Runs, st.Failures, last, st.LastErr)
	}
	return codeBlock(b.String()), nil
}

// cmdHelp lists the registry.
func (d *Dispatcher) cmdHelp(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		cmd := d.commands[name]
		mark := ""
		if cmd.admin {
			mark = " (admin)"
		}
		fmt.Fprintf(&b, "%s%s%s: %s\n", d.cfg.Prefix, name, mark, cmd.help)
	}
	return codeBlock(b.String()), nil
}
