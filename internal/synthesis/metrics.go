package synthesis

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/vocguru/internal/synthesis"

// Outcomes recorded for each Synthesize call.
const (
	OutcomeMerged  = "merged"
	OutcomeCreated = "created"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Stats is a snapshot of pipeline counters since start.
type Stats struct {
	Merged   int64 `json:"merged"`
	Created  int64 `json:"created"`
	Skipped  int64 `json:"skipped"`
	Degraded int64 `json:"degraded"`
	Failed   int64 `json:"failed"`
	Merges   int64 `json:"manual_merges"`
}

type counters struct {
	merged   atomic.Int64
	created  atomic.Int64
	skipped  atomic.Int64
	degraded atomic.Int64
	failed   atomic.Int64
	merges   atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Merged:   c.merged.Load(),
		Created:  c.created.Load(),
		Skipped:  c.skipped.Load(),
		Degraded: c.degraded.Load(),
		Failed:   c.failed.Load(),
		Merges:   c.merges.Load(),
	}
}

// instruments are the OpenTelemetry instruments of the pipeline. They fall
// back to no-ops until a MeterProvider is installed.
type instruments struct {
	decisions metric.Int64Counter
	duration  metric.Float64Histogram
	merges    metric.Int64Counter
}

func newInstruments() *instruments {
	meter := otel.Meter(meterName)
	in := &instruments{}
	in.decisions, _ = meter.Int64Counter("vocguru.synthesis.decisions",
		metric.WithDescription("Synthesize calls by outcome"))
	in.duration, _ = meter.Float64Histogram("vocguru.synthesis.duration",
		metric.WithDescription("Synthesize latency"), metric.WithUnit("s"))
	in.merges, _ = meter.Int64Counter("vocguru.synthesis.manual_merges",
		metric.WithDescription("Manual feature merges"))
	return in
}

func (in *instruments) record(ctx context.Context, outcome string, degraded bool, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Bool("degraded", degraded),
	)
	if in.decisions != nil {
		in.decisions.Add(ctx, 1, attrs)
	}
	if in.duration != nil {
		in.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}
