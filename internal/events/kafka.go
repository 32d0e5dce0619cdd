package events

import (
	"context"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

type Kafka struct {
	w *kafka.Writer
}

// NewKafka writes events to topic, keyed by fingerprint so one visitor's
// events stay on one partition.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}}
}

func (k *Kafka) Publish(ctx context.Context, ev ViewEvent) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Fingerprint), Value: data}); err != nil {
		return fmt.Errorf("kafka write %s: %w", k.w.Topic, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.w.Close() }
