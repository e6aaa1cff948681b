package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"voxrelay/internal/relay"
)

// RunMetrics is a relay.Observer that counts runs by outcome and failed stage.
type RunMetrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	leaked   metric.Int64Counter
}

func NewRunMetrics(meter metric.Meter) (*RunMetrics, error) {
	runs, err := meter.Int64Counter("voxrelay.runs",
		metric.WithDescription("Voice messages processed, by outcome and failed stage."))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("voxrelay.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time from receipt to cleanup."),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2, 4, 8, 15, 30, 60, 120))
	if err != nil {
		return nil, err
	}
	leaked, err := meter.Int64Counter("voxrelay.artifacts.leaked",
		metric.WithDescription("Temporary artifacts that survived cleanup."))
	if err != nil {
		return nil, err
	}
	return &RunMetrics{runs: runs, duration: duration, leaked: leaked}, nil
}

func (m *RunMetrics) ObserveRun(ctx context.Context, rep relay.Report) {
	outcome, stage := "delivered", "none"
	if s, failed := rep.FailedStage(); failed {
		outcome, stage = "failed", s.String()
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("stage", stage),
	)
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, rep.Duration().Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	if rep.ArtifactsLeaked > 0 {
		m.leaked.Add(ctx, int64(rep.ArtifactsLeaked))
	}
}

// Queue is the dispatcher view exported as gauges.
type Queue interface {
	Queued() int64
	InFlight() int64
}

func ObserveQueue(meter metric.Meter, q Queue) error {
	queued, err := meter.Int64ObservableGauge("voxrelay.dispatcher.queued",
		metric.WithDescription("Accepted voice messages waiting to start."))
	if err != nil {
		return err
	}
	inFlight, err := meter.Int64ObservableGauge("voxrelay.dispatcher.in_flight",
		metric.WithDescription("Runs currently executing."))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(queued, q.Queued())
		o.ObserveInt64(inFlight, q.InFlight())
		return nil
	}, queued, inFlight)
	return err
}
