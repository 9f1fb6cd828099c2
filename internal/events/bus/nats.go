package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"permwatch/internal/events/models"
)

type natsConn interface {
	Publish(subj string, data []byte) error
	Close()
}

// NATSPublisher publishes JSON-encoded events to <subject>.<category>.
type NATSPublisher struct {
	conn    natsConn
	subject string
}

// NewNATSPublisher connects to url with unlimited reconnects.
func NewNATSPublisher(url, subject string, opts ...nats.Option) (*NATSPublisher, error) {
	defaults := []nats.Option{
		nats.Name("permwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, subject: subject}, nil
}

func (p *NATSPublisher) Subject(ev models.DomainEvent) string {
	return p.subject + "." + string(ev.Category)
}

func (p *NATSPublisher) Publish(_ context.Context, ev models.DomainEvent) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("publishing %s to NATS: %w", ev.DedupKey(), err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
