// Package classifier turns a raw contract log into a typed DomainEvent.
// It performs no I/O.
package classifier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"permwatch/internal/events/models"
	"permwatch/internal/ledger"
)

// ErrMalformedLog marks logs that cannot become a DomainEvent. The poller
// drops them without holding back the watermark.
var ErrMalformedLog = errors.New("malformed log")

// Classify maps (name, raw) to a DomainEvent stamped with now.
func Classify(name ledger.EventName, raw ledger.RawLog, now time.Time) (models.DomainEvent, error) {
	if !name.Valid() {
		return models.DomainEvent{}, fmt.Errorf("unknown event %q: %w", name, ErrMalformedLog)
	}
	if raw.Name != "" && raw.Name != name {
		return models.DomainEvent{}, fmt.Errorf("log named %s fetched as %s: %w", raw.Name, name, ErrMalformedLog)
	}
	if raw.Removed {
		return models.DomainEvent{}, fmt.Errorf("log %s:%d was removed by a reorg: %w", raw.TxHash, raw.LogIndex, ErrMalformedLog)
	}
	if strings.TrimSpace(raw.TxHash) == "" {
		return models.DomainEvent{}, fmt.Errorf("%s log without transaction hash: %w", name, ErrMalformedLog)
	}

	rule, ok := models.Lookup(name)
	if !ok {
		return models.DomainEvent{}, fmt.Errorf("no rule for %s: %w", name, ErrMalformedLog)
	}

	payload := make(map[string]any, len(raw.Payload))
	for k, v := range raw.Payload {
		payload[k] = v
	}

	return models.DomainEvent{
		Event:           name,
		Category:        rule.Category,
		Severity:        rule.Severity,
		User:            strings.ToLower(strings.TrimSpace(raw.User)),
		TransactionHash: strings.ToLower(raw.TxHash),
		BlockNumber:     raw.BlockNumber,
		LogIndex:        raw.LogIndex,
		Payload:         payload,
		CreatedAt:       now.UTC(),
	}, nil
}
