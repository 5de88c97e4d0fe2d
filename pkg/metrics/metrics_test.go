package metrics

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("notifier", nil)

	c.RecordReceived()
	c.RecordReceived()
	c.RecordProcessed(10 * time.Millisecond)
	c.RecordProcessed(30 * time.Millisecond)
	c.RecordSettled("ack")
	c.RecordSettled("ack")
	c.RecordSettled("requeue")
	c.RecordSettled("release")
	c.RecordDelivery("email", true)
	c.RecordDelivery("email", false)
	c.RecordDelivery("chat", true)
	c.AddCustom("dead_letters", 3)

	s := c.Snapshot()
	if s.Service != "notifier" {
		t.Errorf("Service = %s, want notifier", s.Service)
	}
	if s.Instance == "" {
		t.Error("Instance should be set")
	}
	if s.Received != 2 || s.Processed != 2 {
		t.Errorf("Received = %d, Processed = %d, want 2 each", s.Received, s.Processed)
	}
	if s.Status != StatusOK {
		t.Errorf("Status = %s, want %s", s.Status, StatusOK)
	}
	if math.Abs(s.AvgLatencyMs-20.0) > 0.001 {
		t.Errorf("AvgLatencyMs = %f, want 20", s.AvgLatencyMs)
	}
	if want := map[string]uint64{"ack": 2, "requeue": 1, "release": 1}; !reflect.DeepEqual(s.Settled, want) {
		t.Errorf("Settled = %v, want %v", s.Settled, want)
	}
	wantDeliveries := map[string]ChannelDeliveries{
		"email": {Sent: 1, Failed: 1},
		"chat":  {Sent: 1},
	}
	if !reflect.DeepEqual(s.Deliveries, wantDeliveries) {
		t.Errorf("Deliveries = %v, want %v", s.Deliveries, wantDeliveries)
	}
	if s.Custom["dead_letters"] != 3 {
		t.Errorf("Custom[dead_letters] = %d, want 3", s.Custom["dead_letters"])
	}
}

func TestCollector_DegradedAfterErrors(t *testing.T) {
	c := NewCollector("notifier", nil)
	c.RecordError()

	s := c.Snapshot()
	if s.Errors != 1 {
		t.Errorf("Errors = %d, want 1", s.Errors)
	}
	if s.Status != StatusDegraded {
		t.Errorf("Status = %s, want %s", s.Status, StatusDegraded)
	}
}

func TestCollector_ConcurrentCounters(t *testing.T) {
	c := NewCollector("notifier", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordDelivery("email", false)
			c.IncrementCustom("ledger_errors")
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.Deliveries["email"].Failed != 50 {
		t.Errorf("email failed = %d, want 50", s.Deliveries["email"].Failed)
	}
	if s.Custom["ledger_errors"] != 50 {
		t.Errorf("Custom[ledger_errors] = %d, want 50", s.Custom["ledger_errors"])
	}
}

func TestCollector_Key(t *testing.T) {
	c := NewCollector("notifier", nil)
	if !strings.HasPrefix(c.Key(), KeyPrefix+"notifier:") {
		t.Errorf("Key() = %s, want prefix %s", c.Key(), KeyPrefix+"notifier:")
	}
}

func TestCollector_StartStopWithoutRedis(t *testing.T) {
	c := NewCollector("notifier", nil)
	c.SetReportInterval(5 * time.Millisecond)
	c.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop()
	if err := c.Publish(context.Background()); err != nil {
		t.Errorf("Publish() without redis error = %v", err)
	}
}

func TestCollector_PublishToRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	c := NewCollector("notifier-test", client)
	c.RecordProcessed(time.Millisecond)
	c.RecordError()
	if err := c.Publish(ctx); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	defer client.Del(context.Background(), c.Key())

	data, err := client.Get(ctx, c.Key()).Bytes()
	if err != nil {
		t.Fatalf("GET %s error = %v", c.Key(), err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s.Processed != 1 || s.Status != StatusDegraded {
		t.Errorf("published snapshot = %+v, want 1 processed and degraded", s)
	}

	// No new errors since the last publish.
	if got := c.Snapshot().Status; got != StatusOK {
		t.Errorf("Status after publish = %s, want %s", got, StatusOK)
	}

	ttl, err := client.TTL(ctx, c.Key()).Result()
	if err != nil {
		t.Fatalf("TTL error = %v", err)
	}
	if ttl <= 0 {
		t.Errorf("TTL = %v, want positive", ttl)
	}
}
