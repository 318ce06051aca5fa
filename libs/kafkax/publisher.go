package kafkax

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

type Publisher struct {
	writer *kafka.Writer
}

// Publish serializes the envelope and sends it to the topic. The key should
// be the business id of the entity the event describes so that all events
// for one entity land on the same partition.
func (p *Publisher) Publish(ctx context.Context, topic, key, eventID string, env Envelope) error {
	if p == nil || p.writer == nil {
		return ErrNotConnected
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(eventID)},
		{Key: "event_type", Value: []byte(env.Type)},
	}
	headers = InjectTraceHeaders(ctx, headers)
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	})
}

func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
