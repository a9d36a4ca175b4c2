// Package dispatch receives chat events and routes them through an
// explicit command registry: parse, check permissions, run the handler
// against a fresh cache session, queue sheet writes, reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/scan"
	"github.com/bastionbot/bastion/selector"
	"github.com/bastionbot/bastion/store"
	"github.com/bastionbot/bastion/tasks"
)

// DefaultPrefix starts every command.
const DefaultPrefix = "!"

// DefaultTTL is how long transient error replies and the original bad
// invocation live before deletion.
const DefaultTTL = 30 * time.Second

// DefaultMaxDrop bounds a single drop's magnitude.
const DefaultMaxDrop = 800

// Metrics records per-command outcomes. Wired to the observer at
// startup; nil disables recording.
type Metrics interface {
	Command(ctx context.Context, name string, ok bool, elapsed time.Duration)
}

// Config carries the dispatcher's wiring. Zero values fall back to the
// package defaults.
type Config struct {
	Prefix         string
	TTL            time.Duration
	MaxDrop        int
	DeferThreshold int
	Maintainer     string // user id mentioned on unexpected errors
	HomeSystem     string // distance origin for one-argument dist
	Leaders        []string
	BroadcastChan  string // admin cast destination
}

// Scanners groups the per-document scanners the handlers write through.
type Scanners struct {
	Fort     *scan.Fort
	UmMain   *scan.Um
	UmSnipe  *scan.Um
	Kos      *scan.Kos
	Carriers *scan.Carriers
	Recruits *scan.Recruits
}

type handlerFunc func(ctx context.Context, ev bastion.Event, args []string) (string, error)

type command struct {
	name    string
	admin   bool
	help    string
	handler handlerFunc
}

// Dispatcher routes chat commands.
type Dispatcher struct {
	cfg       Config
	store     *store.Store
	transport bastion.Transport
	catalog   bastion.Catalog
	scanners  Scanners
	sup       *tasks.Supervisor
	logger    *slog.Logger
	printer   *message.Printer
	metrics   Metrics
	started   time.Time

	// haltFn stops the whole process; set by main.
	haltFn context.CancelFunc

	// onAlertChannel propagates a track channel change to the feed
	// summary task.
	onAlertChannel func(channel string)

	commands map[string]command
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records per-command telemetry.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithHalt wires the admin halt command to a process-level cancel.
func WithHalt(fn context.CancelFunc) Option {
	return func(d *Dispatcher) { d.haltFn = fn }
}

// WithAlertChannelSink is called when track channel changes the alert
// destination.
func WithAlertChannelSink(fn func(channel string)) Option {
	return func(d *Dispatcher) { d.onAlertChannel = fn }
}

// WithSupervisor lets dash and admin scan reach the task registry.
func WithSupervisor(s *tasks.Supervisor) Option {
	return func(d *Dispatcher) { d.sup = s }
}

// WithCatalog supplies the galaxy reference data for dist and track.
func WithCatalog(c bastion.Catalog) Option {
	return func(d *Dispatcher) { d.catalog = c }
}

// New builds a dispatcher over a store, a chat transport, and the
// document scanners.
func New(cfg Config, st *store.Store, transport bastion.Transport, scanners Scanners, opts ...Option) *Dispatcher {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxDrop == 0 {
		cfg.MaxDrop = DefaultMaxDrop
	}
	if cfg.DeferThreshold == 0 {
		cfg.DeferThreshold = selector.DefaultDeferThreshold
	}
	d := &Dispatcher{
		cfg:       cfg,
		store:     st,
		transport: transport,
		scanners:  scanners,
		logger:    slog.New(slog.DiscardHandler),
		printer:   message.NewPrinter(language.English),
		started:   time.Now(),
	}
	for _, o := range opts {
		o(d)
	}
	d.registerAll()
	return d
}

func (d *Dispatcher) register(name string, admin bool, help string, h handlerFunc) {
	if d.commands == nil {
		d.commands = map[string]command{}
	}
	d.commands[name] = command{name: name, admin: admin, help: help, handler: h}
}

// Run consumes chat events until ctx is cancelled. Each command runs in
// its own goroutine; the store session and per-document scanner locks
// provide the ordering guarantees.
func (d *Dispatcher) Run(ctx context.Context) error {
	events, err := d.transport.Poll(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: poll: %w", err)
	}
	d.logger.Info("dispatch: running", "prefix", d.cfg.Prefix, "commands", len(d.commands))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(ev.Content, d.cfg.Prefix) {
				continue
			}
			go d.Handle(ctx, ev)
		}
	}
}

// Handle runs one command event end to end. Exported for tests and for
// transports that deliver events by callback.
func (d *Dispatcher) Handle(ctx context.Context, ev bastion.Event) {
	fields := strings.Fields(ev.Content)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], d.cfg.Prefix))
	cmd, ok := d.commands[name]
	if !ok {
		d.transient(ctx, ev, fmt.Sprintf("unknown command %q, try %shelp", name, d.cfg.Prefix))
		return
	}

	start := time.Now()
	err := d.checkPerms(ctx, cmd, ev)
	if err == nil {
		var reply string
		reply, err = cmd.handler(ctx, ev, fields[1:])
		if err == nil && reply != "" {
			d.reply(ctx, ev.Channel, reply)
		}
	}
	if d.metrics != nil {
		d.metrics.Command(ctx, cmd.name, err == nil, time.Since(start))
	}
	if err != nil {
		d.fail(ctx, cmd, ev, err)
	}
}

// checkPerms runs the three-stage gate: channel rows, role rows, admin
// rows. No rows for a stage means the stage passes.
func (d *Dispatcher) checkPerms(ctx context.Context, cmd command, ev bastion.Event) error {
	return d.store.With(ctx, func(sess *store.Session) error {
		ok, err := sess.ChannelAllowed(ctx, cmd.name, ev.Guild, ev.Channel)
		if err != nil {
			return err
		}
		if !ok {
			return &bastion.PermissionError{Cmd: cmd.name, Msg: "not allowed in this channel"}
		}
		ok, err = sess.RoleAllowed(ctx, cmd.name, ev.Guild, ev.Roles)
		if err != nil {
			return err
		}
		if !ok {
			return &bastion.PermissionError{Cmd: cmd.name, Msg: "you lack a required role"}
		}
		if cmd.admin {
			ok, err = sess.IsAdmin(ctx, ev.Author)
			if err != nil {
				return err
			}
			if !ok {
				return &bastion.PermissionError{Cmd: cmd.name, Msg: "admins only"}
			}
		}
		return nil
	})
}

// fail converts a handler error into the user-visible outcome.
func (d *Dispatcher) fail(ctx context.Context, cmd command, ev bastion.Event, err error) {
	var (
		argErr       *bastion.ArgError
		permErr      *bastion.PermissionError
		noMatch      *bastion.NoMatchError
		ambiguous    *bastion.AmbiguousError
		validation   *bastion.ValidationError
		remoteErr    *bastion.RemoteError
		sheetErr     *bastion.SheetParseError
		integrityErr *bastion.IntegrityError
	)
	switch {
	case errors.As(err, &argErr), errors.As(err, &noMatch), errors.As(err, &ambiguous), errors.As(err, &integrityErr):
		d.transient(ctx, ev, err.Error())
		d.deleteLater(ev)
	case errors.As(err, &permErr):
		d.transient(ctx, ev, err.Error())
	case errors.As(err, &validation):
		d.logger.Error("dispatch: validation failed", "cmd", cmd.name, "error", err)
		d.transient(ctx, ev, "something is wrong with the sheet data, please contact leadership")
	case errors.As(err, &remoteErr):
		d.logger.Warn("dispatch: remote unavailable", "cmd", cmd.name, "error", err)
		d.transient(ctx, ev, "the sheet is temporarily unavailable, try again in a minute")
	case errors.As(err, &sheetErr):
		d.logger.Error("dispatch: sheet parse failed", "cmd", cmd.name, "error", err)
		d.transient(ctx, ev, "sheet scan failed: "+err.Error())
	default:
		// The incident id links the user-visible reply to the log line.
		ref := bastion.NewID()
		d.logger.Error("dispatch: handler crashed",
			"cmd", cmd.name, "channel", ev.Channel, "author", ev.Author, "content", ev.Content, "ref", ref, "error", err)
		text := "that went sideways, please try again (ref " + ref[:8] + ")"
		if d.cfg.Maintainer != "" {
			text += " (cc <@" + d.cfg.Maintainer + ">)"
		}
		d.reply(ctx, ev.Channel, text)
	}
}

// reply sends text, splitting under the platform limit on line
// boundaries.
func (d *Dispatcher) reply(ctx context.Context, channel, text string) {
	for _, part := range splitMessage(text, bastion.MaxMessageLen) {
		if _, err := d.transport.Send(ctx, channel, part); err != nil {
			d.logger.Warn("dispatch: send failed", "channel", channel, "error", err)
			return
		}
	}
}

func (d *Dispatcher) transient(ctx context.Context, ev bastion.Event, text string) {
	if _, err := d.transport.SendTTL(ctx, ev.Channel, text, d.cfg.TTL); err != nil {
		d.logger.Warn("dispatch: transient send failed", "channel", ev.Channel, "error", err)
	}
}

// deleteLater removes the offending invocation after the TTL.
func (d *Dispatcher) deleteLater(ev bastion.Event) {
	ttl := d.cfg.TTL
	time.AfterFunc(ttl, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.transport.Delete(ctx, ev.Channel, ev.ID); err != nil {
			d.logger.Debug("dispatch: delete failed", "msg", ev.ID, "error", err)
		}
	})
}

// splitMessage breaks text into chunks of at most limit runes, splitting
// on newlines and falling back to a hard cut for a single oversized line.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			parts = append(parts, line[:limit])
			line = line[limit:]
		}
		if cur.Len()+len(line)+1 > limit {
			parts = append(parts, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	if s := strings.TrimRight(cur.String(), "\n"); s != "" {
		parts = append(parts, s)
	}
	return parts
}

// --- Acting user and auto-enrollment ---

// actor resolves the acting user: a single mention delegates authority,
// more than one is an error, none means the author acts.
func (d *Dispatcher) actor(ctx context.Context, sess *store.Session, ev bastion.Event) (bastion.ChatUser, error) {
	id, name := ev.Author, ev.AuthorName
	if len(ev.Mentions) > 1 {
		return bastion.ChatUser{}, bastion.Argf("mention at most one user, got %d", len(ev.Mentions))
	}
	if len(ev.Mentions) == 1 {
		id, name = ev.Mentions[0].ID, ev.Mentions[0].Name
	}
	if err := sess.EnsureUser(ctx, bastion.ChatUser{ID: id, DisplayName: name}); err != nil {
		return bastion.ChatUser{}, err
	}
	return sess.User(ctx, id)
}

// fortContributor finds the acting user's fort sheet row, enrolling them
// at the smallest free row when absent. The roster write is queued
// before the caller's own writes.
func (d *Dispatcher) fortContributor(ctx context.Context, sess *store.Session, user bastion.ChatUser) (bastion.FortContributor, error) {
	c, err := sess.FortContributorByName(ctx, user.PrefName)
	var noMatch *bastion.NoMatchError
	if !errors.As(err, &noMatch) {
		return c, err
	}
	row, err := sess.NextFreeFortRow(ctx, scan.FortFirstContribRow)
	if err != nil {
		return c, err
	}
	c = bastion.FortContributor{Name: user.PrefName, Row: row, Cry: user.PrefCry}
	c.ID, err = sess.AddFortContributor(ctx, c)
	if err != nil {
		return c, err
	}
	d.scanners.Fort.Enqueue(d.scanners.Fort.ContributorUpdate(c))
	d.logger.Info("dispatch: enrolled fort contributor", "name", c.Name, "row", c.Row)
	return c, nil
}

// umContributor does the same for one undermine document.
func (d *Dispatcher) umContributor(ctx context.Context, sess *store.Session, sheet bastion.UmSheet, user bastion.ChatUser) (bastion.UmContributor, error) {
	c, err := sess.UmContributorByName(ctx, sheet, user.PrefName)
	var noMatch *bastion.NoMatchError
	if !errors.As(err, &noMatch) {
		return c, err
	}
	row, err := sess.NextFreeUmRow(ctx, sheet, scan.UmFirstContribRow)
	if err != nil {
		return c, err
	}
	c = bastion.UmContributor{Sheet: sheet, Name: user.PrefName, Row: row}
	c.ID, err = sess.AddUmContributor(ctx, c)
	if err != nil {
		return c, err
	}
	um := d.umScanner(sheet)
	um.Enqueue(um.ContributorUpdate(c))
	d.logger.Info("dispatch: enrolled um contributor", "name", c.Name, "sheet", sheet, "row", c.Row)
	return c, nil
}

func (d *Dispatcher) umScanner(sheet bastion.UmSheet) *scan.Um {
	if sheet == bastion.UmSheetSnipe {
		return d.scanners.UmSnipe
	}
	return d.scanners.UmMain
}

// num renders an amount with thousands grouping.
func (d *Dispatcher) num(n int) string {
	return d.printer.Sprintf("%d", n)
}
