// Package feed ingests the streaming game-event firehose: hostile
// fleet carrier movements inside watched space raise chat alerts, and
// powerplay snapshots refresh the spy tables. Every message is appended
// verbatim to its schema's journal log.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bastionbot/bastion"
	"github.com/bastionbot/bastion/store"
)

// DefaultReconnectDelay is the pause before re-subscribing after the
// stream drops.
const DefaultReconnectDelay = 5 * time.Second

// Metrics records feed throughput. Wired to the observer at startup;
// nil disables recording.
type Metrics interface {
	Message(ctx context.Context, schema string)
	CarrierMove(ctx context.Context)
}

// Ingester consumes the event stream until its context is cancelled.
type Ingester struct {
	stream    bastion.Stream
	store     *store.Store
	transport bastion.Transport
	logger    *slog.Logger
	metrics   Metrics
	reconnect time.Duration
	rawDir    string

	mu           sync.Mutex
	alertChannel string
	movesSeen    int
	msgsSeen     int
	lastSummary  time.Time
	lastDigest   time.Time
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingester) { i.logger = l }
}

// WithMetrics records feed throughput telemetry.
func WithMetrics(m Metrics) Option {
	return func(i *Ingester) { i.metrics = m }
}

// WithReconnectDelay overrides the resubscribe pause.
func WithReconnectDelay(d time.Duration) Option {
	return func(i *Ingester) { i.reconnect = d }
}

// WithRawDir enables per-schema journal logs under dir.
func WithRawDir(dir string) Option {
	return func(i *Ingester) { i.rawDir = dir }
}

// WithAlertChannel sets the initial carrier-alert destination.
func WithAlertChannel(channel string) Option {
	return func(i *Ingester) { i.alertChannel = channel }
}

// New builds an ingester over a stream, the cache, and the chat
// transport used for alerts.
func New(stream bastion.Stream, st *store.Store, transport bastion.Transport, opts ...Option) *Ingester {
	i := &Ingester{
		stream:      stream,
		store:       st,
		transport:   transport,
		logger:      slog.New(slog.DiscardHandler),
		reconnect:   DefaultReconnectDelay,
		lastSummary: time.Now(),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// SetAlertChannel retargets carrier alerts; wired to the track channel
// command.
func (i *Ingester) SetAlertChannel(channel string) {
	i.mu.Lock()
	i.alertChannel = channel
	i.mu.Unlock()
	i.logger.Info("feed: alert channel changed", "channel", channel)
}

func (i *Ingester) alertTo() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.alertChannel
}

// Run subscribes, consumes, and resubscribes with a fixed delay until
// ctx is cancelled. In-flight messages finish before returning.
func (i *Ingester) Run(ctx context.Context) error {
	for {
		msgs, err := i.stream.Subscribe(ctx)
		if err != nil {
			i.logger.Warn("feed: subscribe failed", "error", err, "retry", i.reconnect)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(i.reconnect):
				continue
			}
		}
		i.logger.Info("feed: subscribed")
		for msg := range msgs {
			i.Handle(ctx, msg)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.reconnect):
		}
	}
}

// Handle processes one decoded message. Exported for tests and for
// streams that deliver by callback.
func (i *Ingester) Handle(ctx context.Context, msg bastion.RawMessage) {
	i.mu.Lock()
	i.msgsSeen++
	i.mu.Unlock()
	if i.metrics != nil {
		i.metrics.Message(ctx, msg.SchemaRef)
	}

	i.logRaw(msg)
	if msg.SchemaRef != bastion.SchemaJournal {
		return
	}

	event, _ := msg.Message["event"].(string)
	switch event {
	case "Docked", "CarrierJump":
		i.handleCarrier(ctx, msg)
	case "FSDJump", "Location":
		// A jump or location fix aboard a fleet carrier is both a
		// carrier sighting and a powerplay snapshot.
		if stationType, _ := msg.Message["StationType"].(string); stationType == "FleetCarrier" {
			i.handleCarrier(ctx, msg)
		}
		i.handleSystem(ctx, msg)
	}
}

// handleCarrier tracks a fleet carrier seen docking or jumping. Unknown
// carriers outside watched space are ignored; pinned ones follow the
// ship wherever it goes.
func (i *Ingester) handleCarrier(ctx context.Context, msg bastion.RawMessage) {
	system, _ := msg.Message["StarSystem"].(string)
	stationType, _ := msg.Message["StationType"].(string)
	callsign, _ := msg.Message["StationName"].(string)
	callsign = strings.ToUpper(strings.TrimSpace(callsign))
	if system == "" || stationType != "FleetCarrier" || !isCallsign(callsign) {
		return
	}
	seenAt := msg.Timestamp(time.Now())

	var alert string
	err := i.store.With(ctx, func(sess *store.Session) error {
		watched, centres, err := sess.IsWatched(ctx, system)
		if err != nil {
			return err
		}
		if !watched {
			// Only pinned carriers are followed outside watched space.
			existing, err := sess.Carrier(ctx, callsign)
			if err != nil || !existing.Override {
				return nil
			}
		}
		prev, moved, err := sess.UpsertCarrier(ctx, callsign, "", system, seenAt)
		if err != nil {
			return err
		}
		if !moved && prev.ID != "" {
			return nil
		}
		i.mu.Lock()
		i.movesSeen++
		i.mu.Unlock()
		if i.metrics != nil {
			i.metrics.CarrierMove(ctx)
		}

		label := callsign
		if prev.Squad != "" {
			label += " (" + prev.Squad + ")"
		}
		if prev.System == "" {
			alert = fmt.Sprintf("carrier %s spotted in %s", label, system)
		} else {
			alert = fmt.Sprintf("carrier %s jumped %s to %s", label, prev.System, system)
		}
		if len(centres) > 0 {
			alert += " (watched via " + strings.Join(centres, ", ") + ")"
		}
		return nil
	})
	if err != nil {
		i.logger.Error("feed: carrier update failed", "callsign", callsign, "system", system, "error", err)
		return
	}
	if alert == "" {
		return
	}
	channel := i.alertTo()
	if channel == "" {
		i.logger.Info("feed: carrier moved, no alert channel", "alert", alert)
		return
	}
	if _, err := i.transport.Send(ctx, channel, alert); err != nil {
		i.logger.Warn("feed: alert send failed", "channel", channel, "error", err)
	}
}

// handleSystem refreshes the powerplay snapshot for a system from a
// jump or location event. Stale messages lose to newer rows.
func (i *Ingester) handleSystem(ctx context.Context, msg bastion.RawMessage) {
	system, _ := msg.Message["StarSystem"].(string)
	power, _ := msg.Message["ControllingPower"].(string)
	if system == "" || power == "" {
		return
	}
	spy := bastion.SpySystem{
		Name:      system,
		Power:     power,
		Fort:      intField(msg.Message, "PowerplayStateReinforcement"),
		Um:        intField(msg.Message, "PowerplayStateUndermining"),
		UpdatedAt: msg.Timestamp(time.Now()),
	}
	err := i.store.With(ctx, func(sess *store.Session) error {
		return sess.UpsertSpySystem(ctx, spy)
	})
	if err != nil {
		i.logger.Error("feed: spy update failed", "system", system, "error", err)
	}
}

// logRaw appends the wire bytes to the schema's journal log.
func (i *Ingester) logRaw(msg bastion.RawMessage) {
	if i.rawDir == "" {
		return
	}
	name := strings.NewReplacer("/", "_", ":", "_", "\\", "_").Replace(msg.SchemaRef) + ".log"
	path := filepath.Join(i.rawDir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		i.logger.Warn("feed: raw log open failed", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(msg.Raw, '\n')); err != nil {
		i.logger.Warn("feed: raw log write failed", "path", path, "error", err)
	}
}

// isCallsign reports a fleet carrier callsign: three alphanumerics, a
// dash, three alphanumerics.
func isCallsign(s string) bool {
	if len(s) != bastion.CarrierIDLen || s[3] != '-' {
		return false
	}
	for i, r := range s {
		if i == 3 {
			continue
		}
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
