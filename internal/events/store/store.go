package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"permwatch/internal/events/models"
	"permwatch/internal/kv"
	"permwatch/pkg/platform/sentinel"
	"permwatch/pkg/requestcontext"
)

const (
	eventKeyPrefix    = "event:"
	userEventsPrefix  = "userEvents:"
	categoryKeyPrefix = "categoryEvents:"
	severityKeyPrefix = "severityEvents:"
	recentEventsKey   = "recentEvents"

	// UserRetention bounds the primary record and the per-user index.
	UserRetention = 30 * 24 * time.Hour
	// IndexRetention bounds the per-category, per-severity and recent indices.
	IndexRetention = 7 * 24 * time.Hour

	userIndexLimit   = 1000
	sharedIndexLimit = 5000
	recentLimit      = 10000
)

// UserEventsKey is the per-user history list. The renewal scheduler applies
// retention policy to it directly.
func UserEventsKey(user string) string { return userEventsPrefix + user }

func eventKey(dedupKey string) string { return eventKeyPrefix + dedupKey }

func categoryKey(c models.Category) string { return categoryKeyPrefix + string(c) }

func severityKey(s models.Severity) string { return severityKeyPrefix + string(s) }

// Store persists DomainEvents and keeps an advisory stats snapshot. Index
// entries are snapshots taken at ingestion; Processed is authoritative only
// on the primary record.
type Store struct {
	kv     kv.Store
	logger *slog.Logger

	mu    sync.RWMutex
	stats models.Stats
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New constructs a Store over the given key-value store.
func New(store kv.Store, opts ...Option) (*Store, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	s := &Store{
		kv:     store,
		logger: slog.Default(),
		stats:  models.NewStats(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put stores ev once per (transactionHash, logIndex). It reports whether
// this call created the record; a duplicate is not an error.
func (s *Store) Put(ctx context.Context, ev models.DomainEvent) (bool, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return false, fmt.Errorf("marshal event %s: %w", ev.DedupKey(), err)
	}

	created, err := s.kv.SetNX(ctx, eventKey(ev.DedupKey()), string(data), UserRetention)
	if err != nil {
		return false, fmt.Errorf("put event %s: %w", ev.DedupKey(), err)
	}
	if !created {
		duplicateEvents.Inc()
		return false, nil
	}

	s.record(ev)
	storedEvents.WithLabelValues(string(ev.Category), string(ev.Severity)).Inc()

	if ev.User != "" {
		s.pushIndex(ctx, UserEventsKey(ev.User), string(data), userIndexLimit, UserRetention)
	}
	s.pushIndex(ctx, categoryKey(ev.Category), string(data), sharedIndexLimit, IndexRetention)
	s.pushIndex(ctx, severityKey(ev.Severity), string(data), sharedIndexLimit, IndexRetention)
	s.pushIndex(ctx, recentEventsKey, string(data), recentLimit, IndexRetention)

	return true, nil
}

// pushIndex is best effort: the primary record is already written.
func (s *Store) pushIndex(ctx context.Context, key, value string, limit int64, ttl time.Duration) {
	if _, err := s.kv.LPush(ctx, key, value); err != nil {
		s.logger.WarnContext(ctx, "event index push failed", "key", key, "error", err)
		return
	}
	if err := s.kv.LTrim(ctx, key, 0, limit-1); err != nil {
		s.logger.WarnContext(ctx, "event index trim failed", "key", key, "error", err)
	}
	if _, err := s.kv.Expire(ctx, key, ttl); err != nil {
		s.logger.WarnContext(ctx, "event index expire failed", "key", key, "error", err)
	}
}

// Get returns the primary record for a dedup key.
func (s *Store) Get(ctx context.Context, dedupKey string) (*models.DomainEvent, error) {
	raw, err := s.kv.Get(ctx, eventKey(dedupKey))
	if err != nil {
		return nil, err
	}
	var ev models.DomainEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", dedupKey, err)
	}
	return &ev, nil
}

// MarkProcessed flips the processed flag on the primary record, keeping
// its remaining TTL.
func (s *Store) MarkProcessed(ctx context.Context, dedupKey string) error {
	ev, err := s.Get(ctx, dedupKey)
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", dedupKey, err)
	}
	if ev.Processed {
		return nil
	}
	ev.Processed = true

	ttl, err := s.kv.TTL(ctx, eventKey(dedupKey))
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", dedupKey, err)
	}
	if ttl == kv.KeyMissing {
		return fmt.Errorf("mark processed %s: %w", dedupKey, sentinel.ErrNotFound)
	}
	if ttl <= 0 {
		ttl = UserRetention
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", dedupKey, err)
	}
	return s.kv.Set(ctx, eventKey(dedupKey), string(data), ttl)
}

// GetByUser returns up to limit events for user, newest first. Store
// failures yield an empty result.
func (s *Store) GetByUser(ctx context.Context, user string, limit int) []models.DomainEvent {
	return s.readIndex(ctx, UserEventsKey(user), limit)
}

// GetByCategory returns up to limit events in category c, newest first.
func (s *Store) GetByCategory(ctx context.Context, c models.Category, limit int) []models.DomainEvent {
	return s.readIndex(ctx, categoryKey(c), limit)
}

// GetBySeverity returns up to limit events with severity sev, newest first.
func (s *Store) GetBySeverity(ctx context.Context, sev models.Severity, limit int) []models.DomainEvent {
	return s.readIndex(ctx, severityKey(sev), limit)
}

// GetSince returns every retained event created at or after since, newest first.
func (s *Store) GetSince(ctx context.Context, since time.Time) []models.DomainEvent {
	all := s.readIndex(ctx, recentEventsKey, 0)
	out := make([]models.DomainEvent, 0, len(all))
	for _, ev := range all {
		if !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) readIndex(ctx context.Context, key string, limit int) []models.DomainEvent {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	items, err := s.kv.LRange(ctx, key, 0, stop)
	if err != nil {
		s.logger.WarnContext(ctx, "event index read failed", "key", key, "error", err)
		return []models.DomainEvent{}
	}
	out := make([]models.DomainEvent, 0, len(items))
	for _, item := range items {
		var ev models.DomainEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable index entry", "key", key, "error", err)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (s *Store) record(ev models.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalEvents++
	s.stats.EventsByType[string(ev.Event)]++
	s.stats.EventsBySeverity[ev.Severity]++
}

// Stats returns a copy of the advisory aggregate counters.
func (s *Store) Stats() models.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.Clone()
}

// RefreshStats rebuilds the snapshot from the retained recent events. The
// snapshot is a cache; the store remains the source of truth.
func (s *Store) RefreshStats(ctx context.Context) models.Stats {
	now := requestcontext.Now(ctx)
	events := s.GetSince(ctx, now.Add(-IndexRetention))

	fresh := models.NewStats()
	for _, ev := range events {
		fresh.TotalEvents++
		fresh.EventsByType[string(ev.Event)]++
		fresh.EventsBySeverity[ev.Severity]++
	}
	fresh.LastUpdated = now

	s.mu.Lock()
	s.stats = fresh
	s.mu.Unlock()

	return fresh.Clone()
}
