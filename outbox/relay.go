package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lightframe/lib-relay/backoff"
	"github.com/lightframe/lib-relay/log"
	"github.com/lightframe/lib-relay/resilience"
)

const publishEndpoint = "outbox-publisher"

// DispatchResult summarizes one dispatch cycle.
type DispatchResult struct {
	// Claimed is the number of records claimed for this cycle.
	Claimed int
	// Published is the number of records dispatched successfully.
	Published int
	// Failed is the number of records that failed and were rescheduled.
	Failed int
	// DeadLettered is the number of records that reached the retry ceiling
	// this cycle.
	DeadLettered int
	// CircuitOpen reports that the cycle stopped early because the
	// publisher circuit rejected a call. Remaining records keep their
	// state untouched and are retried next cycle.
	CircuitOpen bool
}

// Relay drains pending outbox records to the publisher. One relay instance
// dispatches sequentially, so records sharing a partition key leave in
// sequence order. With multiple replicas a Leaser keeps a single relay
// active.
//
// Every publish goes through the resilience policy. An open circuit stops
// the cycle without consuming retry budget: the failure is the relay's
// inability to call out, not the records'.
type Relay struct {
	store     Store
	publisher Publisher
	policy    *resilience.Policy
	leaser    Leaser
	cfg       RelayConfig
	clock     Clock
	logger    log.Logger
	tracer    trace.Tracer
	metrics   relayMetrics

	running atomic.Bool
}

// RelayOption configures a Relay.
type RelayOption func(*relayOptions)

type relayOptions struct {
	cfg           RelayConfig
	policy        *resilience.Policy
	leaser        Leaser
	clock         Clock
	logger        log.Logger
	tracerProv    trace.TracerProvider
	meterProvider metric.MeterProvider
}

// WithRelayConfig overrides the relay configuration. Zero fields fall back
// to defaults.
func WithRelayConfig(cfg RelayConfig) RelayOption {
	return func(opts *relayOptions) {
		opts.cfg = cfg
	}
}

// WithRelayPolicy overrides the publisher resilience policy.
func WithRelayPolicy(policy *resilience.Policy) RelayOption {
	return func(opts *relayOptions) {
		if policy != nil {
			opts.policy = policy
		}
	}
}

// WithRelayLeaser sets the dispatch lease source for scale-out deployments.
func WithRelayLeaser(leaser Leaser) RelayOption {
	return func(opts *relayOptions) {
		opts.leaser = leaser
	}
}

// WithRelayClock overrides the relay's time source.
func WithRelayClock(clock Clock) RelayOption {
	return func(opts *relayOptions) {
		if clock != nil {
			opts.clock = clock
		}
	}
}

// WithRelayLogger sets the relay logger.
func WithRelayLogger(logger log.Logger) RelayOption {
	return func(opts *relayOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithRelayTracerProvider overrides the tracer provider.
func WithRelayTracerProvider(provider trace.TracerProvider) RelayOption {
	return func(opts *relayOptions) {
		if provider != nil {
			opts.tracerProv = provider
		}
	}
}

// WithRelayMeterProvider overrides the meter provider.
func WithRelayMeterProvider(provider metric.MeterProvider) RelayOption {
	return func(opts *relayOptions) {
		if provider != nil {
			opts.meterProvider = provider
		}
	}
}

// NewRelay creates a relay over the given store and publisher.
func NewRelay(store Store, publisher Publisher, opts ...RelayOption) (*Relay, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	options := relayOptions{
		cfg:    DefaultRelayConfig(),
		clock:  SystemClock{},
		logger: log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	options.cfg.normalize()

	if options.policy == nil {
		policy, err := resilience.NewPolicy(publishEndpoint, resilience.PublisherConfig(),
			resilience.WithLogger(options.logger))
		if err != nil {
			return nil, fmt.Errorf("create publisher policy: %w", err)
		}

		options.policy = policy
	}

	if options.tracerProv == nil {
		options.tracerProv = otel.GetTracerProvider()
	}

	metrics, err := newRelayMetrics(options.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("create relay metrics: %w", err)
	}

	return &Relay{
		store:     store,
		publisher: publisher,
		policy:    options.policy,
		leaser:    options.leaser,
		cfg:       options.cfg,
		clock:     options.clock,
		logger:    options.logger,
		tracer:    options.tracerProv.Tracer("librelay.outbox.relay"),
		metrics:   metrics,
	}, nil
}

// Policy returns the publisher resilience policy, the handle for health
// observation and manual resets.
func (relay *Relay) Policy() *resilience.Policy { return relay.policy }

// DispatchOnce runs a single dispatch cycle: claim due records, publish
// them in sequence order, and commit all outcomes as one atomic unit.
// A cycle with nothing due returns a zero result and no error.
func (relay *Relay) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := relay.tracer.Start(ctx, "outbox.dispatch")
	defer span.End()

	start := relay.clock.Now()

	batch, err := relay.store.Claim(ctx, ClaimOptions{
		Limit:      relay.cfg.BatchSize,
		Now:        start,
		MaxRetries: relay.cfg.MaxRetries,
	})
	if err != nil {
		if errors.Is(err, ErrNoRecords) {
			return DispatchResult{}, nil
		}

		return DispatchResult{}, fmt.Errorf("claim outbox batch: %w", err)
	}

	// Releases the claim if the cycle exits without committing, including a
	// publisher panic. Close is a no-op once the batch committed.
	defer func() { _ = batch.Close(context.WithoutCancel(ctx)) }()

	records := batch.Records()
	result := DispatchResult{Claimed: len(records)}

	relay.metrics.batchDepth.Record(ctx, int64(len(records)))
	span.SetAttributes(attribute.Int("outbox.batch.size", len(records)))

	for _, record := range records {
		if err := relay.dispatchRecord(ctx, record, &result); err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				result.CircuitOpen = true

				relay.logger.Log(ctx, log.LevelWarn, "publisher circuit open, stopping cycle",
					log.Int("remaining", result.Claimed-result.Published-result.Failed))
			}

			break
		}

		if ctx.Err() != nil {
			break
		}
	}

	// Outcomes of an interrupted cycle still commit so completed publishes
	// are not re-delivered on restart.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relay.cfg.CommitGrace)
	defer cancel()

	if err := batch.Commit(commitCtx); err != nil {
		return result, fmt.Errorf("commit outbox batch: %w", err)
	}

	relay.metrics.cycleLatency.Record(ctx, relay.clock.Now().Sub(start).Seconds())

	if result.Claimed > 0 {
		relay.logger.Log(ctx, log.LevelInfo, "dispatch cycle complete",
			log.Int("claimed", result.Claimed),
			log.Int("published", result.Published),
			log.Int("failed", result.Failed),
			log.Int("dead_lettered", result.DeadLettered),
			log.Bool("circuit_open", result.CircuitOpen))
	}

	return result, nil
}

// dispatchRecord publishes one record and records its outcome. A non-nil
// return means the cycle must stop and the record was left untouched:
// either the circuit rejected the call or the relay is shutting down.
func (relay *Relay) dispatchRecord(ctx context.Context, record *Record, result *DispatchResult) error {
	_, err := relay.policy.Execute(ctx, func(ctx context.Context) (any, error) {
		return nil, relay.publisher.Publish(ctx, record.EventType, record.Payload, record.PartitionKey)
	})
	if err == nil {
		record.markProcessed(relay.clock.Now())
		result.Published++
		relay.metrics.published.Add(ctx, 1,
			metric.WithAttributes(attribute.String("event_type", record.EventType)))

		return nil
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return err
	}

	// A failure during shutdown is the relay's, not the record's; leave it
	// for the next run instead of consuming retry budget.
	if ctx.Err() != nil {
		return err
	}

	// The reschedule delay reflects the failure being recorded now, so the
	// first failure waits 2*base, the second 4*base.
	delay := backoff.Exponential(relay.cfg.BackoffBase, record.RetryCount+1)
	if relay.cfg.BackoffJitter {
		delay = backoff.FullJitter(delay)
	}

	record.markFailed(relay.clock.Now(), err, delay, relay.cfg.MaxRetries)
	result.Failed++
	relay.metrics.failed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event_type", record.EventType)))

	if record.Dead(relay.cfg.MaxRetries) {
		result.DeadLettered++
		relay.metrics.deadLettered.Add(ctx, 1,
			metric.WithAttributes(attribute.String("event_type", record.EventType)))

		relay.logger.Log(ctx, log.LevelError, "outbox record dead-lettered",
			log.String("record_id", record.ID.String()),
			log.String("event_type", record.EventType),
			log.Int64("sequence", record.SequenceNumber),
			log.Int("retry_count", record.RetryCount),
			log.String("last_error", record.ErrorMessage))

		return nil
	}

	relay.logger.Log(ctx, log.LevelWarn, "outbox dispatch failed, rescheduled",
		log.String("record_id", record.ID.String()),
		log.String("event_type", record.EventType),
		log.Int64("sequence", record.SequenceNumber),
		log.Int("retry_count", record.RetryCount),
		log.Duration("backoff", delay),
		log.Err(err))

	return nil
}

// Run polls the store until ctx is cancelled. It implements the App
// interface. Cycle-level failures are logged and retried after the error
// backoff; the loop only exits on shutdown.
func (relay *Relay) Run(ctx context.Context) error {
	if !relay.running.CompareAndSwap(false, true) {
		return ErrRelayRunning
	}
	defer relay.running.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}

	lease, err := relay.acquireLease(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}

		return err
	}

	if lease != nil {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), relay.cfg.CommitGrace)
			defer cancel()

			if err := lease.Release(releaseCtx); err != nil {
				relay.logger.Log(releaseCtx, log.LevelWarn, "failed to release dispatch lease", log.Err(err))
			}
		}()
	}

	relay.logger.Log(ctx, log.LevelInfo, "outbox relay started",
		log.Duration("poll_interval", relay.cfg.PollInterval),
		log.Int("batch_size", relay.cfg.BatchSize),
		log.Int("max_retries", relay.cfg.MaxRetries))

	ticker := time.NewTicker(relay.cfg.PollInterval)
	defer ticker.Stop()

	relay.dispatchSafely(ctx)

	for {
		select {
		case <-ctx.Done():
			relay.logger.Log(ctx, log.LevelInfo, "outbox relay stopping")

			return nil
		case <-ticker.C:
			relay.dispatchSafely(ctx)
		}
	}
}

// acquireLease blocks until the dispatch lease is held, retrying at the
// poll interval while another instance owns it. Without a leaser it
// returns immediately.
func (relay *Relay) acquireLease(ctx context.Context) (Lease, error) {
	if relay.leaser == nil {
		return nil, nil
	}

	for {
		lease, err := relay.leaser.Acquire(ctx)
		if err == nil {
			relay.logger.Log(ctx, log.LevelInfo, "dispatch lease acquired")

			return lease, nil
		}

		if !errors.Is(err, ErrLeaseUnavailable) {
			return nil, fmt.Errorf("acquire dispatch lease: %w", err)
		}

		relay.logger.Log(ctx, log.LevelDebug, "dispatch lease held elsewhere, standing by")

		if waitErr := backoff.Sleep(ctx, relay.cfg.PollInterval); waitErr != nil {
			return nil, waitErr
		}
	}
}

// dispatchSafely runs one cycle, converting failures and panics into a
// logged error backoff so the loop keeps going.
func (relay *Relay) dispatchSafely(ctx context.Context) {
	defer func() {
		if recovered := recover(); recovered != nil {
			relay.logger.Log(ctx, log.LevelError, "panic during dispatch cycle",
				log.Any("panic", recovered))

			_ = backoff.Sleep(ctx, relay.cfg.ErrorBackoff)
		}
	}()

	if _, err := relay.DispatchOnce(ctx); err != nil {
		relay.logger.Log(ctx, log.LevelError, "dispatch cycle failed",
			log.Err(err), log.Duration("error_backoff", relay.cfg.ErrorBackoff))

		_ = backoff.Sleep(ctx, relay.cfg.ErrorBackoff)
	}
}
