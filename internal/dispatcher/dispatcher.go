package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notifier/internal/consumer"
	"notifier/internal/deadletter"
	"notifier/internal/events"
	"notifier/internal/ledger"
	"notifier/internal/metrics"
	"notifier/internal/sender"
	"notifier/internal/sender/retry"
)

const (
	// settleTimeout bounds ack, nack, release and dead-letter writes. They run
	// on a context detached from shutdown so a cancelled event is still settled.
	settleTimeout = 10 * time.Second

	// receiveErrorBackoff paces the pull loop while the queue is failing.
	receiveErrorBackoff = time.Second
)

// Decision is how a message is settled.
type Decision int

const (
	// Ack: every recipient was handled, or only permanent failures remain.
	Ack Decision = iota
	// Requeue: transient failures remain and attempts are left.
	Requeue
	// Discard: the payload is malformed or attempts are exhausted.
	Discard
	// Release: shutdown interrupted delivery; the attempt is not counted.
	Release
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Discard:
		return "discard"
	case Release:
		return "release"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Config bounds the dispatcher.
type Config struct {
	Concurrency     int           // Number of events processed at once
	RetryLimit      int           // Attempts per event, including the first
	DeliveryTimeout time.Duration // Upper bound for delivering one event
	DrainTimeout    time.Duration // Time in-flight events get after shutdown starts
	Backoff         retry.Config  // Delay before a requeue, indexed by attempt
	Settle          retry.Config  // Retries for queue settlement calls
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		RetryLimit:      5,
		DeliveryTimeout: 60 * time.Second,
		DrainTimeout:    30 * time.Second,
		Backoff: retry.Config{
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2.0,
		},
		Settle: retry.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency < 1 {
		c.Concurrency = def.Concurrency
	}
	if c.RetryLimit < 1 {
		c.RetryLimit = def.RetryLimit
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = def.DeliveryTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	return c
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLedger sets the delivery ledger. Without one every recipient is always sent.
func WithLedger(l Ledger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.ledger = l
		}
	}
}

// WithSink sets the dead-letter sink. The default logs records.
func WithSink(s deadletter.Sink) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.sink = s
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Dispatcher moves alert events from the queue to the channel senders.
type Dispatcher struct {
	cfg       Config
	queue     Queue
	deliverer Deliverer
	ledger    Ledger
	sink      deadletter.Sink
	metrics   metrics.Recorder
}

// NewDispatcher creates a dispatcher. Zero config fields take their defaults.
func NewDispatcher(cfg Config, queue Queue, deliverer Deliverer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg.withDefaults(),
		queue:     queue,
		deliverer: deliverer,
		ledger:    ledger.NoOp{},
		sink:      deadletter.LogSink{},
		metrics:   metrics.NewNoOp(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run pulls messages and processes them on a fixed pool of workers until ctx
// is cancelled. Pulling stops at once; in-flight events then get DrainTimeout
// to finish before their deliveries are cancelled and the messages released.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Starting alert dispatch loop",
		"workers", d.cfg.Concurrency,
		"retry_limit", d.cfg.RetryLimit,
		"delivery_timeout", d.cfg.DeliveryTimeout,
	)

	// Workers outlive ctx so they can drain.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	jobs := make(chan *consumer.Message)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				d.Process(workCtx, msg)
			}
		}()
	}

	d.pull(ctx, workCtx, jobs)
	close(jobs)

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(d.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		slog.Warn("Drain timeout reached, cancelling in-flight deliveries",
			"drain_timeout", d.cfg.DrainTimeout,
		)
		cancelWork()
		<-drained
	}

	slog.Info("Alert dispatch loop stopped")
	return nil
}

// pull feeds jobs until ctx is done. A message fetched while shutting down
// is released rather than processed.
func (d *Dispatcher) pull(ctx, workCtx context.Context, jobs chan<- *consumer.Message) {
	for {
		msg, err := d.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Failed to receive alert event", "error", err)
			d.metrics.RecordError()
			if retry.Sleep(ctx, receiveErrorBackoff) != nil {
				return
			}
			continue
		}

		d.metrics.RecordReceived()

		select {
		case jobs <- msg:
		case <-ctx.Done():
			d.settle(workCtx, msg, Release)
			return
		}
	}
}

// Process handles one message end to end and returns how it was settled.
// It never panics; any failure becomes a decision.
func (d *Dispatcher) Process(ctx context.Context, msg *consumer.Message) (decision Decision) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic while processing alert event",
				"panic", r,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			d.metrics.RecordError()
			decision = d.afterPanic(ctx, msg, r)
		}
		d.metrics.RecordProcessed(time.Since(start))
	}()

	ev, err := events.Decode(msg.Body)
	if err != nil {
		slog.Error("Discarding malformed alert event",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", msg.Attempt,
		)
		d.metrics.RecordError()
		d.deadLetter(ctx, deadletter.NewRecord(deadletter.ReasonMalformed, msg.Attempt, msg.Body, nil, nil))
		d.settle(ctx, msg, Discard)
		return Discard
	}

	slog.Debug("Received alert event",
		"server_id", ev.ServerID,
		"server_host", ev.ServerHost,
		"transition", ev.Transition(),
		"attempt", msg.Attempt,
		"recipients", ev.TotalRecipients(),
	)

	key := ledgerKey(msg, ev)
	deliverCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	report := d.deliverer.Dispatch(deliverCtx, ev, d.pending(deliverCtx, key, ev))
	cancel()

	d.record(ctx, key, report)

	decision = decide(report, msg.Attempt, d.cfg.RetryLimit)
	if decision != Ack && ctx.Err() != nil {
		decision = Release
	}

	switch decision {
	case Ack:
		if rejected := report.Permanent(); len(rejected) > 0 {
			slog.Warn("Some recipients rejected the alert, acknowledging the rest",
				"dispatch_id", report.ID,
				"server_id", ev.ServerID,
				"rejected", len(rejected),
			)
			d.deadLetter(ctx, deadletter.NewRecord(deadletter.ReasonRecipientRejected, msg.Attempt, msg.Body, ev, rejected))
		}
	case Requeue:
		wait := retry.Backoff(d.cfg.Backoff, msg.Attempt-1)
		slog.Warn("Transient delivery failures, requeueing alert event",
			"dispatch_id", report.ID,
			"server_id", ev.ServerID,
			"attempt", msg.Attempt,
			"transient", len(report.Transient()),
			"backoff", wait,
		)
		if err := retry.Sleep(ctx, wait); err != nil {
			decision = Release
		}
	case Discard:
		slog.Error("Retries exhausted, discarding alert event",
			"dispatch_id", report.ID,
			"server_id", ev.ServerID,
			"attempt", msg.Attempt,
			"failed", len(report.Failed()),
		)
		d.deadLetter(ctx, deadletter.NewRecord(deadletter.ReasonRetriesExhausted, msg.Attempt, msg.Body, ev, report.Failed()))
	}

	d.settle(ctx, msg, decision)

	slog.Info("Processed alert event",
		"dispatch_id", report.ID,
		"server_id", ev.ServerID,
		"transition", ev.Transition(),
		"attempt", msg.Attempt,
		"succeeded", len(report.Succeeded()),
		"failed", len(report.Failed()),
		"already_delivered", report.AlreadyDelivered,
		"decision", decision,
	)
	return decision
}

// afterPanic settles a message whose processing panicked. A panic counts as a
// failed attempt so a message that panics every time still reaches the retry
// limit and is dead-lettered; only shutdown releases it.
func (d *Dispatcher) afterPanic(ctx context.Context, msg *consumer.Message, r any) Decision {
	decision := Requeue
	switch {
	case ctx.Err() != nil:
		decision = Release
	case msg.Attempt >= d.cfg.RetryLimit:
		decision = Discard
		rec := deadletter.NewRecord(deadletter.ReasonRetriesExhausted, msg.Attempt, msg.Body, nil, nil)
		rec.Panic = fmt.Sprint(r)
		d.deadLetterSafely(ctx, rec)
	}
	d.settle(ctx, msg, decision)
	return decision
}

// deadLetterSafely is deadLetter for the panic path, where the sink itself
// may be what panicked.
func (d *Dispatcher) deadLetterSafely(ctx context.Context, rec deadletter.Record) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dead-letter sink panicked", "dead_letter_id", rec.ID, "panic", r)
			d.metrics.RecordError()
		}
	}()
	d.deadLetter(ctx, rec)
}

// decide maps a dispatch report to a settlement. attempt is 1-based.
func decide(report *sender.Report, attempt, retryLimit int) Decision {
	if len(report.Transient()) == 0 {
		return Ack
	}
	if attempt < retryLimit {
		return Requeue
	}
	return Discard
}

// ledgerKey identifies one delivery job. Queue messages carry an origin that
// survives requeues; the event key is only used when there is none, since two
// distinct events can share it.
func ledgerKey(msg *consumer.Message, ev *events.AlertEvent) string {
	if msg.Origin != "" {
		return msg.Origin
	}
	return ev.Key()
}

// pending loads the ledger entries under key and returns a filter that drops
// recipients already delivered. Ledger errors keep every recipient.
func (d *Dispatcher) pending(ctx context.Context, key string, ev *events.AlertEvent) sender.Filter {
	delivered := make(map[string]map[string]bool)
	for _, channel := range events.Channels() {
		recipients := ev.Recipients(channel)
		if len(recipients) == 0 {
			continue
		}
		done, err := d.ledger.Delivered(ctx, key, channel, recipients)
		if err != nil {
			slog.Warn("Failed to read delivery ledger, sending to every recipient",
				"channel", channel,
				"server_id", ev.ServerID,
				"error", err,
			)
			d.metrics.RecordError()
			continue
		}
		delivered[channel] = done
	}

	return func(channel, recipient string) bool {
		return !delivered[channel][recipient]
	}
}

// record updates metrics and the ledger from a report.
func (d *Dispatcher) record(ctx context.Context, key string, report *sender.Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	for _, o := range report.Outcomes {
		d.metrics.RecordDelivery(o.Channel, o.Succeeded)
		if !o.Succeeded {
			continue
		}
		if err := d.ledger.MarkDelivered(ctx, key, o.Channel, o.Recipient); err != nil {
			slog.Warn("Failed to record delivery in ledger",
				"channel", o.Channel,
				"recipient", o.Recipient,
				"error", err,
			)
			d.metrics.RecordError()
		}
	}
}

func (d *Dispatcher) deadLetter(ctx context.Context, rec deadletter.Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := d.sink.Write(ctx, rec); err != nil {
		slog.Error("Failed to write dead letter",
			"dead_letter_id", rec.ID,
			"reason", rec.Reason,
			"error", err,
		)
		d.metrics.RecordError()
	}
}

// settle applies decision to msg. An unsettled message is redelivered by the
// broker eventually, so failures are only logged.
func (d *Dispatcher) settle(ctx context.Context, msg *consumer.Message, decision Decision) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	err := retry.WithRetry(ctx, d.cfg.Settle, "settle "+decision.String(), func() error {
		switch decision {
		case Ack:
			return d.queue.Ack(ctx, msg)
		case Requeue:
			return d.queue.Nack(ctx, msg, true)
		case Discard:
			return d.queue.Nack(ctx, msg, false)
		default:
			return d.queue.Release(ctx, msg)
		}
	})
	if err != nil {
		slog.Error("Failed to settle alert event",
			"decision", decision,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		d.metrics.RecordError()
		return
	}

	switch decision {
	case Ack:
		d.metrics.RecordAcked()
	case Requeue:
		d.metrics.RecordRequeued()
	case Discard:
		d.metrics.RecordDiscarded()
	default:
		d.metrics.RecordReleased()
	}
}
