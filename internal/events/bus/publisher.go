// Package bus fans stored domain events out to external consumers. Sinks are
// optional; delivery is at-most-once per successful ingestion and never
// blocks the poller on a broker outage when wrapped in Async.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"permwatch/internal/events/models"
)

// Publisher delivers one domain event to a sink.
type Publisher interface {
	Publish(ctx context.Context, ev models.DomainEvent) error
	Close() error
}

func encode(ev models.DomainEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshaling event %s: %w", ev.DedupKey(), err)
	}
	return data, nil
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, models.DomainEvent) error { return nil }
func (Noop) Close() error { return nil }

// Multi publishes to every sink and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev models.DomainEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Combine returns the cheapest publisher covering the given sinks.
func Combine(pubs ...Publisher) Publisher {
	var active Multi
	for _, p := range pubs {
		if p != nil {
			active = append(active, p)
		}
	}
	switch len(active) {
	case 0:
		return Noop{}
	case 1:
		return active[0]
	default:
		return active
	}
}
