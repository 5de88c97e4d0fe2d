package producer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"notifier/internal/events"
)

// AlertMessage encodes ev as a Kafka message keyed by server id, so events
// for one server stay on one partition.
func AlertMessage(ev *events.AlertEvent) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal alert event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(ev.ServerID), 10)),
		Value: payload,
	}, nil
}
