package outbox

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type relayMetrics struct {
	published    metric.Int64Counter
	failed       metric.Int64Counter
	deadLettered metric.Int64Counter
	cycleLatency metric.Float64Histogram
	batchDepth   metric.Int64Gauge
}

func newRelayMetrics(provider metric.MeterProvider) (relayMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter("librelay.outbox.relay")

	var (
		metrics relayMetrics
		err     error
	)

	metrics.published, err = meter.Int64Counter(
		"outbox.records.published",
		metric.WithDescription("Number of outbox records successfully published"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.records.published counter: %w", err)
	}

	metrics.failed, err = meter.Int64Counter(
		"outbox.records.failed",
		metric.WithDescription("Number of failed dispatch attempts"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.records.failed counter: %w", err)
	}

	metrics.deadLettered, err = meter.Int64Counter(
		"outbox.records.dead_lettered",
		metric.WithDescription("Number of records that reached the retry ceiling"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.records.dead_lettered counter: %w", err)
	}

	metrics.cycleLatency, err = meter.Float64Histogram(
		"outbox.dispatch.latency",
		metric.WithDescription("Time taken per dispatch cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.dispatch.latency histogram: %w", err)
	}

	metrics.batchDepth, err = meter.Int64Gauge(
		"outbox.batch.depth",
		metric.WithDescription("Number of records claimed in a dispatch cycle"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return relayMetrics{}, fmt.Errorf("create outbox.batch.depth gauge: %w", err)
	}

	return metrics, nil
}
