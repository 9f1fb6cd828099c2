package bus

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"permwatch/internal/events/models"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher produces events to a single topic, keyed by user so one
// user's events stay ordered within a partition.
type KafkaPublisher struct {
	client producer
}

// NewKafkaPublisher builds a franz-go client for brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, opts ...kgo.Opt) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	defaults := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("permwatch"),
	}
	cl, err := kgo.NewClient(append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return &KafkaPublisher{client: cl}, nil
}

func record(ev models.DomainEvent, value []byte) *kgo.Record {
	key := ev.User
	if key == "" {
		key = ev.DedupKey()
	}
	return &kgo.Record{
		Key:   []byte(key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event", Value: []byte(ev.Event)},
			{Key: "severity", Value: []byte(ev.Severity)},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev models.DomainEvent) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, record(ev, data)).FirstErr(); err != nil {
		return fmt.Errorf("producing %s to kafka: %w", ev.DedupKey(), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}
