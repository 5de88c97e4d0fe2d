// Package metrics collects notifier counters in memory and periodically
// publishes a JSON snapshot per instance to Redis, where dashboards and the
// status report can read it.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix prefixes every snapshot key: KeyPrefix + service + ":" + instance.
	KeyPrefix = "notifier:metrics:"
	// DefaultReportInterval is how often snapshots are published.
	DefaultReportInterval = 30 * time.Second
	// ttlIntervals is how many missed publishes a snapshot survives.
	ttlIntervals = 4
)

// Snapshot statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// ChannelDeliveries counts per-recipient results on one channel.
type ChannelDeliveries struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// Snapshot is the published view of one collector.
type Snapshot struct {
	Service   string    `json:"service"`
	Instance  string    `json:"instance"`
	StartedAt time.Time `json:"started_at"`
	TakenAt   time.Time `json:"taken_at"`
	// Status is degraded when errors were recorded since the previous publish.
	Status string `json:"status"`

	Received  uint64 `json:"received"`
	Processed uint64 `json:"processed"`
	Errors    uint64 `json:"errors"`

	// Settled counts messages by settlement (ack, requeue, discard, release).
	Settled    map[string]uint64            `json:"settled"`
	Deliveries map[string]ChannelDeliveries `json:"deliveries"`
	Custom     map[string]uint64            `json:"custom,omitempty"`

	// Throughput is processed events per second since the previous publish.
	Throughput   float64 `json:"throughput_per_sec"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// counterSet is a named set of counters created on first use.
type counterSet struct {
	mu sync.RWMutex
	m  map[string]*atomic.Uint64
}

func (s *counterSet) add(name string, n uint64) {
	s.mu.RLock()
	c, ok := s.m[name]
	s.mu.RUnlock()
	if !ok {
		s.mu.Lock()
		if s.m == nil {
			s.m = make(map[string]*atomic.Uint64)
		}
		if c, ok = s.m[name]; !ok {
			c = &atomic.Uint64{}
			s.m[name] = c
		}
		s.mu.Unlock()
	}
	c.Add(n)
}

func (s *counterSet) load() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(s.m))
	for name, c := range s.m {
		out[name] = c.Load()
	}
	return out
}

// Collector is safe for concurrent use.
type Collector struct {
	service   string
	instance  string
	redis     *redis.Client
	startedAt time.Time
	interval  time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	errors    atomic.Uint64
	latencyNs atomic.Uint64

	settled counterSet
	sent    counterSet
	failed  counterSet
	custom  counterSet

	// state of the previous publish
	mu            sync.Mutex
	lastAt        time.Time
	lastProcessed uint64
	lastErrors    uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector for service. A nil client keeps the
// counters in memory only.
func NewCollector(service string, client *redis.Client) *Collector {
	now := time.Now().UTC()
	return &Collector{
		service:   service,
		instance:  instanceName(),
		redis:     client,
		startedAt: now,
		interval:  DefaultReportInterval,
		lastAt:    now,
		stopCh:    make(chan struct{}),
	}
}

func instanceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

// SetReportInterval changes the publish interval. Must be called before Start.
func (c *Collector) SetReportInterval(interval time.Duration) {
	if interval > 0 {
		c.interval = interval
	}
}

// Key returns the Redis key this collector publishes to.
func (c *Collector) Key() string {
	return fmt.Sprintf("%s%s:%s", KeyPrefix, c.service, c.instance)
}

// Start publishes a snapshot every interval until ctx is done or Stop is
// called, and once more on the way out.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.publishLogged(context.WithoutCancel(ctx))
				return
			case <-c.stopCh:
				c.publishLogged(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				c.publishLogged(ctx)
			}
		}
	}()
}

// Stop ends publishing. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) RecordReceived() { c.received.Add(1) }
func (c *Collector) RecordError()    { c.errors.Add(1) }

// RecordProcessed counts one finished event and its end-to-end latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	if latency > 0 {
		c.latencyNs.Add(uint64(latency))
	}
}

// RecordSettled counts one settlement, e.g. "ack".
func (c *Collector) RecordSettled(settlement string) {
	c.settled.add(settlement, 1)
}

// RecordDelivery counts one recipient result on channel.
func (c *Collector) RecordDelivery(channel string, ok bool) {
	if ok {
		c.sent.add(channel, 1)
		return
	}
	c.failed.add(channel, 1)
}

// IncrementCustom increments a free-form counter.
func (c *Collector) IncrementCustom(name string) {
	c.custom.add(name, 1)
}

// AddCustom adds n to a free-form counter.
func (c *Collector) AddCustom(name string, n uint64) {
	c.custom.add(name, n)
}

// Snapshot returns the current counters. Rates and status are relative to
// the previous publish.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	lastAt, lastProcessed, lastErrors := c.lastAt, c.lastProcessed, c.lastErrors
	c.mu.Unlock()
	return c.snapshot(time.Now().UTC(), lastAt, lastProcessed, lastErrors)
}

func (c *Collector) snapshot(now, lastAt time.Time, lastProcessed, lastErrors uint64) Snapshot {
	processed := c.processed.Load()
	errs := c.errors.Load()

	s := Snapshot{
		Service:    c.service,
		Instance:   c.instance,
		StartedAt:  c.startedAt,
		TakenAt:    now,
		Status:     StatusOK,
		Received:   c.received.Load(),
		Processed:  processed,
		Errors:     errs,
		Settled:    c.settled.load(),
		Deliveries: make(map[string]ChannelDeliveries),
		Custom:     c.custom.load(),
	}
	if errs > lastErrors {
		s.Status = StatusDegraded
	}
	if elapsed := now.Sub(lastAt).Seconds(); elapsed > 0 {
		s.Throughput = float64(processed-lastProcessed) / elapsed
	}
	if processed > 0 {
		s.AvgLatencyMs = float64(c.latencyNs.Load()) / float64(processed) / float64(time.Millisecond)
	}

	for channel, n := range c.sent.load() {
		d := s.Deliveries[channel]
		d.Sent = n
		s.Deliveries[channel] = d
	}
	for channel, n := range c.failed.load() {
		d := s.Deliveries[channel]
		d.Failed = n
		s.Deliveries[channel] = d
	}
	return s
}

// Publish writes the current snapshot to Redis and starts a new rate window.
// It is a no-op without a Redis client.
func (c *Collector) Publish(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.snapshot(time.Now().UTC(), c.lastAt, c.lastProcessed, c.lastErrors)
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	if err := c.redis.Set(ctx, c.Key(), data, ttlIntervals*c.interval).Err(); err != nil {
		return fmt.Errorf("failed to write metrics to Redis: %w", err)
	}

	c.lastAt = s.TakenAt
	c.lastProcessed = s.Processed
	c.lastErrors = s.Errors
	return nil
}

func (c *Collector) publishLogged(ctx context.Context) {
	if err := c.Publish(ctx); err != nil {
		slog.Error("Failed to publish metrics", "service", c.service, "error", err)
		return
	}
	if c.redis != nil {
		slog.Debug("Metrics published", "key", c.Key())
	}
}
