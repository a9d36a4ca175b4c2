package observer

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func testObserver(t *testing.T) (*Observer, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { mp.Shutdown(context.Background()) }) //nolint:errcheck
	obs, err := New(mp.Meter(scopeName))
	if err != nil {
		t.Fatalf("new observer: %v", err)
	}
	return obs, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func counterTotal(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data = %T, want int64 sum", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestCommandMetrics(t *testing.T) {
	obs, reader := testObserver(t)
	ctx := context.Background()

	obs.Command(ctx, "drop", true, 12*time.Millisecond)
	obs.Command(ctx, "drop", true, 8*time.Millisecond)
	obs.Command(ctx, "fort", false, 3*time.Millisecond)

	metrics := collect(t, reader)
	if got := counterTotal(t, metrics["bot.commands"]); got != 3 {
		t.Errorf("commands = %d, want 3", got)
	}

	hist, ok := metrics["bot.command.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data = %T", metrics["bot.command.duration"].Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("duration samples = %d, want 3", count)
	}

	// Outcomes land on separate series.
	sum := metrics["bot.commands"].Data.(metricdata.Sum[int64])
	statuses := map[string]bool{}
	for _, dp := range sum.DataPoints {
		if v, found := dp.Attributes.Value(AttrStatus); found {
			statuses[v.AsString()] = true
		}
	}
	if !statuses["ok"] || !statuses["error"] {
		t.Errorf("statuses = %v, want both ok and error", statuses)
	}
}

func TestScanAndFeedMetrics(t *testing.T) {
	obs, reader := testObserver(t)
	ctx := context.Background()

	obs.Scan(ctx, "fort", true, 200*time.Millisecond)
	obs.Message(ctx, "journal/1")
	obs.Message(ctx, "journal/1")
	obs.CarrierMove(ctx)

	metrics := collect(t, reader)
	if got := counterTotal(t, metrics["bot.scan.runs"]); got != 1 {
		t.Errorf("scan runs = %d, want 1", got)
	}
	if got := counterTotal(t, metrics["bot.feed.messages"]); got != 2 {
		t.Errorf("feed messages = %d, want 2", got)
	}
	if got := counterTotal(t, metrics["bot.feed.carrier_moves"]); got != 1 {
		t.Errorf("carrier moves = %d, want 1", got)
	}
}
