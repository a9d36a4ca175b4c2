// Package observer emits the bot's operational metrics over OTLP HTTP.
// It instruments command dispatch, document scans, and the event feed;
// the rest of the process records through small interfaces that a nil
// observer satisfies by absence.
package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/bastionbot/bastion/observer"

// Instruments holds the OTEL instruments the bot records to.
type Instruments struct {
	Meter metric.Meter

	// Counters
	Commands     metric.Int64Counter
	ScanRuns     metric.Int64Counter
	FeedMessages metric.Int64Counter
	CarrierMoves metric.Int64Counter

	// Histograms
	CommandDuration metric.Float64Histogram
	ScanDuration    metric.Float64Histogram
}

// Observer records bot metrics. Build one with Init, or with New over
// an existing meter in tests.
type Observer struct {
	inst *Instruments
}

// Init sets up an OTLP HTTP metric exporter and returns an Observer
// plus a shutdown function that must be called on exit. An empty
// endpoint defers to the standard OTEL env vars.
func Init(ctx context.Context, endpoint string) (*Observer, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("bastion")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	var expOpts []otlpmetrichttp.Option
	if endpoint != "" {
		expOpts = append(expOpts, otlpmetrichttp.WithEndpoint(endpoint))
	}
	exp, err := otlpmetrichttp.New(ctx, expOpts...)
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	obs, err := New(mp.Meter(scopeName))
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	return obs, mp.Shutdown, nil
}

// New builds an Observer over a meter.
func New(meter metric.Meter) (*Observer, error) {
	inst, err := newInstruments(meter)
	if err != nil {
		return nil, err
	}
	return &Observer{inst: inst}, nil
}

func newInstruments(meter metric.Meter) (*Instruments, error) {
	commands, err := meter.Int64Counter("bot.commands",
		metric.WithDescription("Dispatched command count"),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, err
	}

	scanRuns, err := meter.Int64Counter("bot.scan.runs",
		metric.WithDescription("Document scan count"),
		metric.WithUnit("{scan}"))
	if err != nil {
		return nil, err
	}

	feedMessages, err := meter.Int64Counter("bot.feed.messages",
		metric.WithDescription("Event feed messages consumed"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}

	carrierMoves, err := meter.Int64Counter("bot.feed.carrier_moves",
		metric.WithDescription("Fleet carrier movements observed"),
		metric.WithUnit("{move}"))
	if err != nil {
		return nil, err
	}

	commandDuration, err := meter.Float64Histogram("bot.command.duration",
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram("bot.scan.duration",
		metric.WithDescription("Document scan duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Meter:           meter,
		Commands:        commands,
		ScanRuns:        scanRuns,
		FeedMessages:    feedMessages,
		CarrierMoves:    carrierMoves,
		CommandDuration: commandDuration,
		ScanDuration:    scanDuration,
	}, nil
}

// Command records one dispatched command and its outcome.
func (o *Observer) Command(ctx context.Context, name string, ok bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		AttrCommandName.String(name),
		AttrStatus.String(status(ok)),
	)
	o.inst.Commands.Add(ctx, 1, attrs)
	o.inst.CommandDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// Scan records one document scan and its outcome.
func (o *Observer) Scan(ctx context.Context, scanner string, ok bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		AttrScannerName.String(scanner),
		AttrStatus.String(status(ok)),
	)
	o.inst.ScanRuns.Add(ctx, 1, attrs)
	o.inst.ScanDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// Message counts one consumed feed message by schema.
func (o *Observer) Message(ctx context.Context, schema string) {
	o.inst.FeedMessages.Add(ctx, 1, metric.WithAttributes(AttrFeedSchema.String(schema)))
}

// CarrierMove counts one observed fleet carrier movement.
func (o *Observer) CarrierMove(ctx context.Context) {
	o.inst.CarrierMoves.Add(ctx, 1)
}

func status(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
