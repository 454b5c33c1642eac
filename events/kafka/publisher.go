// Package kafka publishes committed ledger entries to a Kafka topic.
//
// Downstream consumers (billing exports, usage dashboards) tail the
// topic; the ledger itself never depends on it. Publishing is best-effort
// and happens after the database transaction has committed.
package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/warp/credit-engine/credit"
)

// Topic is where ledger entry events are written.
const Topic = "credit.ledger.entries"

// Publisher implements credit.EventPublisher on a Kafka writer.
type Publisher struct {
	writer *kafka.Writer
}

var _ credit.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher for the given brokers.
func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish marshals the event and writes it to the topic. Events for the
// same account are keyed by user id so they land in order on one
// partition.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{Value: data}
	if e, ok := event.(credit.EntryRecorded); ok {
		msg.Key = []byte(e.UserID)
	}
	return p.writer.WriteMessages(ctx, msg)
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
