package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/scan"
	"github.com/bastionbot/bastion/store"
)

// cmdAdmin groups the management subcommands. The whole command is
// admin-gated by the registry; seniority rules still apply inside.
func (d *Dispatcher) cmdAdmin(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	if len(args) == 0 {
		return "", bastion.Argf("usage: %sadmin add|remove|cycle|deny|dump|halt|scan|top|addum|removeum|active|cast|info", d.cfg.Prefix)
	}
	sub, rest := strings.ToLower(args[0]), args[1:]
	switch sub {
	case "add":
		return d.adminAdd(ctx, ev)
	case "remove":
		return d.adminRemove(ctx, ev)
	case "cycle":
		return d.adminCycle(ctx, ev, rest)
	case "deny":
		return d.adminDeny(ctx, ev, rest)
	case "dump":
		return d.adminDump(ctx)
	case "halt":
		return d.adminHalt(ctx, ev)
	case "scan":
		return d.adminScan(ctx)
	case "top":
		return d.adminTop(ctx, rest)
	case "addum":
		return d.adminAddUm(ctx, rest)
	case "removeum":
		return d.adminRemoveUm(ctx, rest)
	case "active":
		return d.adminActive(ctx)
	case "cast":
		return d.adminCast(ctx, strings.Join(rest, " "))
	case "info":
		return d.adminInfo(ctx)
	default:
		return "", bastion.Argf("unknown admin subcommand %q", sub)
	}
}

func (d *Dispatcher) adminAdd(ctx context.Context, ev bastion.Event) (string, error) {
	if len(ev.Mentions) != 1 {
		return "", bastion.Argf("mention exactly one user to promote")
	}
	m := ev.Mentions[0]
	var reply string
	err := d.store.With(ctx, func(sess *store.Session) error {
		if err := sess.EnsureUser(ctx, bastion.ChatUser{ID: m.ID, DisplayName: m.Name}); err != nil {
			return err
		}
		if err := sess.AddAdmin(ctx, m.ID, time.Now()); err != nil {
			return err
		}
		reply = m.Name + " is now a bot admin"
		return nil
	})
	return reply, err
}

func (d *Dispatcher) adminRemove(ctx context.Context, ev bastion.Event) (string, error) {
	if len(ev.Mentions) != 1 {
		return "", bastion.Argf("mention exactly one user to demote")
	}
	m := ev.Mentions[0]
	var reply string
	err := d.store.With(ctx, func(sess *store.Session) error {
		if err := sess.RemoveAdmin(ctx, ev.Author, m.ID); err != nil {
			return err
		}
		reply = m.Name + " is no longer a bot admin"
		return nil
	})
	return reply, err
}

// adminCycle rolls the campaign documents to the next worksheet tab,
// bumps the cycle counter, and rescans everything. With no argument the
// tab comes from incrementing the number in the current tab's name;
// a failure mid-switch restores the documents already moved.
func (d *Dispatcher) adminCycle(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	scanners := d.campaignScanners()
	if len(scanners) == 0 {
		return "", fmt.Errorf("dispatch: no campaign documents wired")
	}
	tab := strings.Join(args, " ")
	if tab == "" {
		var err error
		tab, err = nextTab(scanners[0].Worksheet())
		if err != nil {
			return "", err
		}
	}

	type switched struct {
		sc   scan.Scanner
		prev string
	}
	var moved []switched
	revert := func() {
		for i := len(moved) - 1; i >= 0; i-- {
			if err := moved[i].sc.ChangeWorksheet(ctx, moved[i].prev); err != nil {
				d.logger.Error("dispatch: cycle revert failed",
					"doc", moved[i].sc.Name(), "tab", moved[i].prev, "error", err)
			}
		}
	}
	for _, sc := range scanners {
		prev := sc.Worksheet()
		if err := sc.ChangeWorksheet(ctx, tab); err != nil {
			revert()
			return "", err
		}
		moved = append(moved, switched{sc, prev})
	}
	if err := d.rescanAll(ctx); err != nil {
		revert()
		return "", err
	}
	var cycle int
	err := d.store.With(ctx, func(sess *store.Session) error {
		g, err := sess.Global(ctx)
		if err != nil {
			return err
		}
		g.Cycle++
		g.UpdatedAt = time.Now()
		cycle = g.Cycle
		return sess.SetGlobal(ctx, g)
	})
	if err != nil {
		return "", err
	}
	d.logger.Info("dispatch: cycle rolled", "tab", tab, "cycle", cycle, "by", ev.Author)
	return fmt.Sprintf("cycle %d begins, documents now on tab %q", cycle, tab), nil
}

// nextTab increments the trailing integer in a tab name, so "Cycle 42"
// rolls to "Cycle 43".
func nextTab(current string) (string, error) {
	i := len(current)
	for i > 0 && current[i-1] >= '0' && current[i-1] <= '9' {
		i--
	}
	if i == len(current) {
		return "", bastion.Argf("cannot derive the next tab from %q, pass one explicitly", current)
	}
	n, err := strconv.Atoi(current[i:])
	if err != nil {
		return "", bastion.Argf("cannot derive the next tab from %q, pass one explicitly", current)
	}
	return current[:i] + strconv.Itoa(n+1), nil
}

// adminDeny manages channel and role restrictions:
//
//	admin deny CMD channel            restrict to the current channel
//	admin deny CMD role NAME          restrict to holders of NAME
//	admin deny CMD --remove ...       lift the matching restriction
//	admin deny CMD                    list active restrictions
func (d *Dispatcher) adminDeny(ctx context.Context, ev bastion.Event, args []string) (string, error) {
	p := parseArgs(args)
	if err := p.only("remove"); err != nil {
		return "", err
	}
	if len(p.pos) == 0 {
		return "", bastion.Argf("usage: %sadmin deny CMD [channel|role NAME] [--remove]", d.cfg.Prefix)
	}
	cmd := strings.ToLower(p.pos[0])
	if _, ok := d.commands[cmd]; !ok {
		return "", bastion.Argf("unknown command %q", cmd)
	}

	var reply string
	err := d.store.With(ctx, func(sess *store.Session) error {
		if len(p.pos) == 1 {
			var err error
			reply, err = d.permsReport(ctx, sess, cmd)
			return err
		}
		kind := strings.ToLower(p.pos[1])
		switch kind {
		case "channel":
			perm := bastion.ChannelPermission{Cmd: cmd, Guild: ev.Guild, Channel: ev.Channel}
			if p.has("remove") {
				if err := sess.RemoveChannelPerm(ctx, perm); err != nil {
					return err
				}
				reply = fmt.Sprintf("%s no longer pinned to this channel", cmd)
				return nil
			}
			if err := sess.AddChannelPerm(ctx, perm); err != nil {
				return err
			}
			reply = fmt.Sprintf("%s now allowed in this channel", cmd)
			return nil
		case "role":
			role := strings.Join(p.pos[2:], " ")
			if role == "" {
				return bastion.Argf("which role?")
			}
			perm := bastion.RolePermission{Cmd: cmd, Guild: ev.Guild, Role: role}
			if p.has("remove") {
				if err := sess.RemoveRolePerm(ctx, perm); err != nil {
					return err
				}
				reply = fmt.Sprintf("%s no longer requires role %q", cmd, role)
				return nil
			}
			if err := sess.AddRolePerm(ctx, perm); err != nil {
				return err
			}
			reply = fmt.Sprintf("%s now requires role %q", cmd, role)
			return nil
		default:
			return bastion.Argf("expected channel or role, got %q", kind)
		}
	})
	return reply, err
}

func (d *Dispatcher) permsReport(ctx context.Context, sess *store.Session, cmd string) (string, error) {
	channels, err := sess.ChannelPerms(ctx, cmd)
	if err != nil {
		return "", err
	}
	roles, err := sess.RolePerms(ctx, cmd)
	if err != nil {
		return "", err
	}
	if len(channels) == 0 && len(roles) == 0 {
		return cmd + " is unrestricted", nil
	}
	var lines []string
	for _, c := range channels {
		lines = append(lines, fmt.Sprintf("  channel <#%s> (guild %s)", c.Channel, c.Guild))
	}
	for _, r := range roles {
		lines = append(lines, fmt.Sprintf("  role %q (guild %s)", r.Role, r.Guild))
	}
	return cmd + " restrictions:\n" + strings.Join(lines, "\n"), nil
}

// adminDump reports cache row counts per area.
func (d *Dispatcher) adminDump(ctx context.Context) (string, error) {
	var b strings.Builder
	err := d.store.With(ctx, func(sess *store.Session) error {
		forts, err := sess.FortTargets(ctx)
		if err != nil {
			return err
		}
		ums, err := sess.UmTargets(ctx, "")
		if err != nil {
			return err
		}
		kos, err := sess.KosEntries(ctx)
		if err != nil {
			return err
		}
		carriers, err := sess.Carriers(ctx)
		if err != nil {
			return err
		}
		tracked, err := sess.TrackedSystems(ctx)
		if err != nil {
			return err
		}
		cache, err := sess.TrackedCache(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "fort targets: %d\n", len(forts))
		fmt.Fprintf(&b, "um targets: %d\n", len(ums))
		fmt.Fprintf(&b, "kos entries: %d\n", len(kos))
		fmt.Fprintf(&b, "carriers: %d\n", len(carriers))
		fmt.Fprintf(&b, "tracked systems: %d covering %d cached systems\n", len(tracked), len(cache))
		return nil
	})
	return codeBlock(b.String()), err
}

func (d *Dispatcher) adminHalt(ctx context.Context, ev bastion.Event) (string, error) {
	if d.haltFn == nil {
		return "", fmt.Errorf("dispatch: halt not wired")
	}
	d.logger.Warn("dispatch: halt requested", "by", ev.Author)
	d.reply(ctx, ev.Channel, "shutting down, o7")
	d.haltFn()
	return "", nil
}

// adminScan refreshes and reparses every document now.
func (d *Dispatcher) adminScan(ctx context.Context) (string, error) {
	if err := d.rescanAll(ctx); err != nil {
		return "", err
	}
	return "all documents rescanned", nil
}

// rescanAll snapshots and parses each document in its own transaction,
// so one bad sheet cannot hold back the rest.
func (d *Dispatcher) rescanAll(ctx context.Context) error {
	for _, sc := range d.allScanners() {
		if err := sc.UpdateCells(ctx); err != nil {
			return err
		}
		if err := d.store.With(ctx, func(sess *store.Session) error {
			return sc.Scan(ctx, sess)
		}); err != nil {
			return fmt.Errorf("scan %s: %w", sc.Name(), err)
		}
	}
	return nil
}

func (d *Dispatcher) allScanners() []scan.Scanner {
	out := d.campaignScanners()
	if d.scanners.Kos != nil {
		out = append(out, d.scanners.Kos)
	}
	if d.scanners.Carriers != nil {
		out = append(out, d.scanners.Carriers)
	}
	if d.scanners.Recruits != nil {
		out = append(out, d.scanners.Recruits)
	}
	return out
}

// campaignScanners are the documents that roll over at the cycle tick.
func (d *Dispatcher) campaignScanners() []scan.Scanner {
	var out []scan.Scanner
	if d.scanners.Fort != nil {
		out = append(out, d.scanners.Fort)
	}
	if d.scanners.UmMain != nil {
		out = append(out, d.scanners.UmMain)
	}
	if d.scanners.UmSnipe != nil {
		out = append(out, d.scanners.UmSnipe)
	}
	return out
}

// adminTop renders the merit leaderboards, recruits marked, configured
// leadership excluded.
func (d *Dispatcher) adminTop(ctx context.Context, args []string) (string, error) {
	p := parseArgs(args)
	if err := p.only("leaders"); err != nil {
		return "", err
	}
	limit := 10
	if len(p.pos) > 0 {
		n, err := parseSignedAmount(p.pos[0])
		if err != nil || n < 1 {
			return "", bastion.Argf("bad count %q", p.pos[0])
		}
		limit = n
	}
	includeLeaders := p.has("leaders")

	excluded := map[string]bool{}
	if !includeLeaders {
		for _, name := range d.cfg.Leaders {
			excluded[strings.ToLower(name)] = true
		}
	}

	var b strings.Builder
	err := d.store.With(ctx, func(sess *store.Session) error {
		section := func(label string, ranked []store.RankedAmount) error {
			fmt.Fprintf(&b, "%s:\n", label)
			shown := 0
			for _, r := range ranked {
				if excluded[strings.ToLower(r.Name)] {
					continue
				}
				recruit, err := sess.IsRecruit(ctx, r.Name)
				if err != nil {
					return err
				}
				mark := ""
				if recruit {
					mark = " [recruit]"
				}
				fmt.Fprintf(&b, "  %2d. %-24s %s%s\n", r.Rank, r.Name, d.num(r.Amount), mark)
				shown++
				if shown == limit {
					break
				}
			}
			if shown == 0 {
				b.WriteString("  nothing recorded\n")
			}
			return nil
		}
		// Over-fetch so leadership exclusions still fill the table.
		fetch := limit + len(excluded)
		fort, err := sess.TopFortMerits(ctx, fetch)
		if err != nil {
			return err
		}
		if err := section("Top fortification", fort); err != nil {
			return err
		}
		um, err := sess.TopUmMerits(ctx, fetch)
		if err != nil {
			return err
		}
		if err := section("Top undermining", um); err != nil {
			return err
		}
		combined, err := sess.TopMerits(ctx, fetch)
		if err != nil {
			return err
		}
		return section("Top combined", combined)
	})
	return codeBlock(b.String()), err
}

// adminAddUm clones the template pair into alphabetical position on an
// undermine document and rescans it.
func (d *Dispatcher) adminAddUm(ctx context.Context, args []string) (string, error) {
	p := parseArgs(args, "kind", "trigger", "priority")
	if err := p.only("snipe", "kind", "trigger", "priority"); err != nil {
		return "", err
	}
	name := p.rest(0)
	if name == "" {
		return "", bastion.Argf("usage: %sadmin addum SYSTEM [--snipe] [--kind control|expansion] [--trigger N] [--priority P]", d.cfg.Prefix)
	}
	kind := strings.ToLower(p.flags["kind"])
	if kind == "" {
		kind = string(bastion.UmKindControl)
	}
	trigger, err := p.intFlag("trigger", 0)
	if err != nil {
		return "", err
	}

	sheet := bastion.UmSheetMain
	if p.has("snipe") {
		sheet = bastion.UmSheetSnipe
	}
	um := d.umScanner(sheet)
	updates, err := um.InsertTarget(name, kind, trigger, p.flags["priority"])
	if err != nil {
		return "", err
	}
	um.Enqueue(updates...)
	if err := um.Flush(ctx); err != nil {
		return "", err
	}
	if err := um.UpdateCells(ctx); err != nil {
		return "", err
	}
	if err := d.store.With(ctx, func(sess *store.Session) error {
		return um.Scan(ctx, sess)
	}); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s added to the %s document", name, sheet), nil
}

// adminRemoveUm slides a target out of an undermine document and rescans.
func (d *Dispatcher) adminRemoveUm(ctx context.Context, args []string) (string, error) {
	p := parseArgs(args)
	if err := p.only("snipe"); err != nil {
		return "", err
	}
	name := p.rest(0)
	if name == "" {
		return "", bastion.Argf("usage: %sadmin removeum SYSTEM [--snipe]", d.cfg.Prefix)
	}
	sheet := bastion.UmSheetMain
	if p.has("snipe") {
		sheet = bastion.UmSheetSnipe
	}
	um := d.umScanner(sheet)
	updates, err := um.RemoveTarget(name)
	if err != nil {
		return "", err
	}
	um.Enqueue(updates...)
	if err := um.Flush(ctx); err != nil {
		return "", err
	}
	if err := um.UpdateCells(ctx); err != nil {
		return "", err
	}
	if err := d.store.With(ctx, func(sess *store.Session) error {
		return um.Scan(ctx, sess)
	}); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s removed from the %s document", name, sheet), nil
}

// adminActive lists the current admins with seniority.
func (d *Dispatcher) adminActive(ctx context.Context) (string, error) {
	var b strings.Builder
	err := d.store.With(ctx, func(sess *store.Session) error {
		admins, err := sess.Admins(ctx)
		if err != nil {
			return err
		}
		if len(admins) == 0 {
			b.WriteString("no admins enrolled\n")
			return nil
		}
		for _, a := range admins {
			u, err := sess.User(ctx, a.UserID)
			name := a.UserID
			if err == nil {
				name = u.PrefName
			}
			fmt.Fprintf(&b, "  %-24s since %s\n", name, a.CreatedAt.Format("2006-01-02"))
		}
		return nil
	})
	return "Bot admins:\n" + strings.TrimRight(b.String(), "\n"), err
}

// adminCast broadcasts a message to the configured announcement channel.
func (d *Dispatcher) adminCast(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", bastion.Argf("nothing to broadcast")
	}
	if d.cfg.BroadcastChan == "" {
		return "", bastion.Argf("no broadcast channel configured")
	}
	d.reply(ctx, d.cfg.BroadcastChan, text)
	return "broadcast sent", nil
}

// adminInfo reports runtime state.
func (d *Dispatcher) adminInfo(ctx context.Context) (string, error) {
	var g bastion.Global
	err := d.store.With(ctx, func(sess *store.Session) error {
		var err error
		g, err = sess.Global(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "uptime: %s\n", time.Since(d.started).Round(time.Second))
	fmt.Fprintf(&b, "cycle: %d\n", g.Cycle)
	fmt.Fprintf(&b, "consolidation: %d%%\n", g.Consolidation)
	fmt.Fprintf(&b, "commands: %d\n", len(d.commands))
	fmt.Fprintf(&b, "prefix: %s\n", d.cfg.Prefix)
	return codeBlock(b.String()), nil
}
