package models

import (
	"fmt"
	"strconv"
	"time"

	"permwatch/internal/ledger"
)

// Category groups events by the part of the contract they concern.
type Category string

const (
	CategoryTransfer   Category = "transfer"
	CategoryPermission Category = "permission"
	CategorySession    Category = "session"
	CategoryAdmin      Category = "admin"
	CategoryOracle     Category = "oracle"
	CategorySecurity   Category = "security"
)

// AllCategories returns every category in a stable order.
func AllCategories() []Category {
	return []Category{CategoryTransfer, CategoryPermission, CategorySession, CategoryAdmin, CategoryOracle, CategorySecurity}
}

func (c Category) IsValid() bool {
	for _, known := range AllCategories() {
		if c == known {
			return true
		}
	}
	return false
}

// Severity orders events by how urgently a user should hear about them.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AllSeverities returns every severity from least to most urgent.
func AllSeverities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

func (s Severity) IsValid() bool {
	return s.rank() > 0
}

func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is as urgent as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// DomainEvent is the immutable, classified form of a contract log. Only
// Processed changes after creation.
type DomainEvent struct {
	Event           ledger.EventName `json:"event"`
	Category        Category         `json:"category"`
	Severity        Severity         `json:"severity"`
	User            string           `json:"user,omitempty"`
	TransactionHash string           `json:"transaction_hash"`
	BlockNumber     uint64           `json:"block_number"`
	LogIndex        uint             `json:"log_index"`
	Payload         map[string]any   `json:"payload,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	Processed       bool             `json:"processed"`
}

// DedupKey is the natural identity of the event: (transactionHash, logIndex).
func (e DomainEvent) DedupKey() string {
	return e.TransactionHash + ":" + strconv.FormatUint(uint64(e.LogIndex), 10)
}

// PayloadString returns a string payload field or "".
func (e DomainEvent) PayloadString(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// PayloadBool returns a bool payload field or false.
func (e DomainEvent) PayloadBool(key string) bool {
	v, _ := e.Payload[key].(bool)
	return v
}

// PayloadStrings returns a string list payload field. It accepts both the
// decoded []string form and the []any form produced by a JSON round trip.
func (e DomainEvent) PayloadStrings(key string) []string {
	switch v := e.Payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// PayloadTime parses a unix-seconds payload field.
func (e DomainEvent) PayloadTime(key string) (time.Time, error) {
	raw := e.PayloadString(key)
	if raw == "" {
		return time.Time{}, fmt.Errorf("payload field %s missing", key)
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("payload field %s: %w", key, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// Stats is the advisory aggregate snapshot served to the UI.
type Stats struct {
	TotalEvents      int64              `json:"total_events"`
	EventsByType     map[string]int64   `json:"events_by_type"`
	EventsBySeverity map[Severity]int64 `json:"events_by_severity"`
	LastUpdated      time.Time          `json:"last_updated"`
}

// NewStats returns an empty snapshot.
func NewStats() Stats {
	return Stats{
		EventsByType:     make(map[string]int64),
		EventsBySeverity: make(map[Severity]int64),
	}
}

// Clone deep-copies the snapshot maps.
func (s Stats) Clone() Stats {
	out := NewStats()
	out.TotalEvents = s.TotalEvents
	out.LastUpdated = s.LastUpdated
	for k, v := range s.EventsByType {
		out.EventsByType[k] = v
	}
	for k, v := range s.EventsBySeverity {
		out.EventsBySeverity[k] = v
	}
	return out
}
