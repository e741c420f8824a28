package orders

import (
	"context"
	"encoding/json"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
)

// KafkaPublisher puts envelopes on the order topics keyed by order number.
type KafkaPublisher struct {
	Producer *kafkax.Producer
}

func (k KafkaPublisher) Publish(_ context.Context, topic string, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return k.Producer.Publish(topic, PartitionKey(env.CorrelationID), b,
		kafkax.EventHeaders(env.EventType, env.EventVersion)...)
}
