package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// cmdTrack manages carrier surveillance: watch centres, the covered-
// system cache, and the carrier register.
func (d *Dispatcher) cmdTrack(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	if len(args) == 0 {
		return "", bastion.Argf("usage: %strack add|remove|ids|show|channel|scan", d.cfg.Prefix)
	}
	sub, rest := strings.ToLower(args[0]), args[1:]
	switch sub {
	case "add":
		return d.trackAdd(ctx, rest)
	case "remove":
		return d.trackRemove(ctx, rest)
	case "ids":
		return d.trackIDs(ctx, rest)
	case "show":
		return d.trackShow(ctx)
	case "channel":
		return d.trackChannel(ev)
	case "scan":
		return d.trackScan(ctx)
	default:
		return "", bastion.Argf("unknown track subcommand %q", sub)
	}
}

// trackAdd registers watch centres and merges their coverage into the
// cache: track add 15 Rana, Frey.
func (d *Dispatcher) trackAdd(ctx context.Context, args []string) (string, error) {
	if len(args) < 2 {
		return "", bastion.Argf("usage: %strack add DISTANCE SYSTEM[, SYSTEM...]", d.cfg.Prefix)
	}
	ly, err := strconv.ParseFloat(args[0], 64)
	if err != nil || ly < 0 {
		return "", bastion.Argf("bad distance %q", args[0])
	}
	if d.catalog == nil {
		return "", fmt.Errorf("dispatch: no galaxy catalog wired")
	}
	centres := splitList(strings.Join(args[1:], " "))
	if len(centres) == 0 {
		return "", bastion.Argf("which systems?")
	}

	var lines []string
	err = d.store.With(ctx, func(sess *store.Session) error {
		for _, centre := range centres {
			covered, err := d.catalog.SystemsWithin(centre, ly)
			if err != nil {
				return &bastion.NoMatchError{Kind: "system", Needle: centre}
			}
			if err := sess.AddTrackedSystem(ctx, bastion.TrackedSystem{Name: centre, DistanceLY: ly}); err != nil {
				return err
			}
			if err := sess.MergeTrackedCache(ctx, centre, covered); err != nil {
				return err
			}
			lines = append(lines, fmt.Sprintf("  %s: %d systems within %.0f ly", centre, len(covered), ly))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "Now watching:\n" + strings.Join(lines, "\n"), nil
}

func (d *Dispatcher) trackRemove(ctx context.Context, args []string) (string, error) {
	centres := splitList(strings.Join(args, " "))
	if len(centres) == 0 {
		return "", bastion.Argf("usage: %strack remove SYSTEM[, SYSTEM...]", d.cfg.Prefix)
	}
	err := d.store.With(ctx, func(sess *store.Session) error {
		for _, needle := range centres {
			t, err := sess.TrackedSystemByName(ctx, needle)
			if err != nil {
				return err
			}
			if err := sess.RemoveTrackedSystem(ctx, t.Name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return "stopped watching " + strings.Join(centres, ", "), nil
}

// trackIDs lists the carrier register; --keep pins a carrier outside
// watched space, --drop forgets one.
func (d *Dispatcher) trackIDs(ctx context.Context, args []string) (string, error) {
	p := parseArgs(args, "keep", "drop")
	if err := p.only("keep", "drop"); err != nil {
		return "", err
	}

	if id := strings.ToUpper(p.flags["keep"]); id != "" {
		err := d.store.With(ctx, func(sess *store.Session) error {
			return sess.SetCarrierOverride(ctx, id, true)
		})
		if err != nil {
			return "", err
		}
		return id + " pinned: tracked everywhere, never reaped", nil
	}
	if id := strings.ToUpper(p.flags["drop"]); id != "" {
		err := d.store.With(ctx, func(sess *store.Session) error {
			return sess.RemoveCarrier(ctx, id)
		})
		if err != nil {
			return "", err
		}
		return id + " forgotten", nil
	}

	var b strings.Builder
	err := d.store.With(ctx, func(sess *store.Session) error {
		carriers, err := sess.Carriers(ctx)
		if err != nil {
			return err
		}
		if len(carriers) == 0 {
			b.WriteString("no carriers on the register\n")
			return nil
		}
		fmt.Fprintf(&b, "%-8s %-16s %-24s %-24s %s\n", "ID", "Squad", "System", "Previous", "Seen")
		for _, c := range carriers {
			mark := ""
			if c.Override {
				mark = " *"
			}
			fmt.Fprintf(&b, "%-8s %-16s %-24s %-24s %s%s\n",
				c.ID, c.Squad, c.System, c.PrevSystem, c.UpdatedAt.Format("Jan 2 15:04"), mark)
		}
		return nil
	})
	return codeBlock(b.String()), err
}

func (d *Dispatcher) trackShow(ctx context.Context) (string, error) {
	var b strings.Builder
	err := d.store.With(ctx, func(sess *store.Session) error {
		systems, err := sess.TrackedSystems(ctx)
		if err != nil {
			return err
		}
		cache, err := sess.TrackedCache(ctx)
		if err != nil {
			return err
		}
		if len(systems) == 0 {
			b.WriteString("not watching any systems")
			return nil
		}
		fmt.Fprintf(&b, "Watching %d centres covering %d systems:\n", len(systems), len(cache))
		for _, t := range systems {
			fmt.Fprintf(&b, "  %s within %.0f ly\n", t.Name, t.DistanceLY)
		}
		return nil
	})
	return strings.TrimRight(b.String(), "\n"), err
}

// trackChannel points carrier alerts at the invoking channel.
func (d *Dispatcher) trackChannel(ev bastion.Event) (string, error) {
	if d.onAlertChannel == nil {
		return "", fmt.Errorf("dispatch: alert channel sink not wired")
	}
	d.onAlertChannel(ev.Channel)
	return "carrier alerts will land here", nil
}

// trackScan rescans the carrier-id document.
func (d *Dispatcher) trackScan(ctx context.Context) (string, error) {
	sc := d.scanners.Carriers
	if sc == nil {
		return "", fmt.Errorf("dispatch: no carrier scanner wired")
	}
	if err := sc.UpdateCells(ctx); err != nil {
		return "", err
	}
	if err := d.store.With(ctx, func(sess *store.Session) error {
		return sc.Scan(ctx, sess)
	}); err != nil {
		return "", err
	}
	return "carrier register rescanned", nil
}

// cmdKos manages the kill-on-sight list.
func (d *Dispatcher) cmdKos(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	if len(args) == 0 {
		return "", bastion.Argf("usage: %skos report|search|pull", d.cfg.Prefix)
	}
	sub, rest := strings.ToLower(args[0]), args[1:]
	switch sub {
	case "report":
		return d.kosReport(ctx, rest)
	case "search":
		return d.kosSearch(ctx, strings.Join(rest, " "))
	case "pull":
		return d.kosPull(ctx)
	default:
		return "", bastion.Argf("unknown kos subcommand %q", sub)
	}
}

// kosReport adds a commander to the list and appends the row to the
// sheet; duplicates by name are ignored case-insensitively.
func (d *Dispatcher) kosReport(ctx context.Context, args []string) (string, error) {
	p := parseArgs(args, "squad", "reason")
	if err := p.only("squad", "reason", "friendly"); err != nil {
		return "", err
	}
	cmdr := p.rest(0)
	if cmdr == "" {
		return "", bastion.Argf("usage: %skos report CMDR [--squad S] [--reason R] [--friendly]", d.cfg.Prefix)
	}
	entry := bastion.KosEntry{
		Cmdr:     cmdr,
		Squad:    p.flags["squad"],
		Reason:   p.flags["reason"],
		Friendly: p.has("friendly"),
	}

	var added bool
	err := d.store.With(ctx, func(sess *store.Session) error {
		var err error
		added, err = sess.AddKos(ctx, entry)
		return err
	})
	if err != nil {
		return "", err
	}
	if !added {
		return cmdr + " is already on the list", nil
	}
	if d.scanners.Kos != nil {
		d.scanners.Kos.Enqueue(d.scanners.Kos.ReportUpdate(entry))
	}
	if entry.Friendly {
		return cmdr + " recorded as friendly", nil
	}
	return cmdr + " added to the kill-on-sight list", nil
}

func (d *Dispatcher) kosSearch(ctx context.Context, needle string) (string, error) {
	if needle == "" {
		return "", bastion.Argf("search for what?")
	}
	var entries []bastion.KosEntry
	err := d.store.With(ctx, func(sess *store.Session) error {
		var err error
		entries, err = sess.SearchKos(ctx, needle)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return fmt.Sprintf("nothing matches %q, fly safe", needle), nil
	}
	return d.kosTable(entries), nil
}

func (d *Dispatcher) kosPull(ctx context.Context) (string, error) {
	var entries []bastion.KosEntry
	err := d.store.With(ctx, func(sess *store.Session) error {
		var err error
		entries, err = sess.KosEntries(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "the list is empty", nil
	}
	return d.kosTable(entries), nil
}

func (d *Dispatcher) kosTable(entries []bastion.KosEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-16s %-8s %s\n", "CMDR", "Squad", "Status", "Reason")
	for _, e := range entries {
		status := "KOS"
		if e.Friendly {
			status = "friendly"
		}
		fmt.Fprintf(&b, "%-24s %-16s %-8s %s\n", e.Cmdr, e.Squad, status, e.Reason)
	}
	return codeBlock(b.String())
}
