// Package renewal stores ScheduledRenewal records and runs the periodic job
// that applies retention policy and replays due renewals on-chain.
package renewal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"permwatch/internal/kv"
	"permwatch/pkg/platform/audit"
	"permwatch/pkg/platform/sentinel"
	"permwatch/pkg/requestcontext"
)

const scheduledKeyPrefix = "scheduledRenew:"

func scheduledKey(user string) string { return scheduledKeyPrefix + user }

// Service manages ScheduledRenewal records.
type Service struct {
	kv     kv.Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store kv.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	s := &Service{kv: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Schedule writes r for its user, replacing any earlier schedule.
func (s *Service) Schedule(ctx context.Context, r ScheduledRenewal) error {
	r.User = strings.ToLower(strings.TrimSpace(r.User))
	if r.User == "" {
		return errors.New("scheduled renewal requires a user")
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("scheduled renewal kind %q: %w", r.Kind, sentinel.ErrInvalidState)
	}
	if r.RenewAt.IsZero() {
		return errors.New("scheduled renewal requires renewAt")
	}
	if r.Kind == KindRenew && r.Args.User == "" {
		r.Args.User = r.User
	}
	r.CreatedAt = requestcontext.Now(ctx)

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal scheduled renewal %s: %w", r.User, err)
	}
	if err := s.kv.Set(ctx, scheduledKey(r.User), string(data), 0); err != nil {
		return fmt.Errorf("store scheduled renewal %s: %w", r.User, err)
	}

	audit.Log(ctx, s.logger, audit.EventRenewalScheduled,
		"user", r.User, "kind", string(r.Kind), "renew_at", r.RenewAt)
	return nil
}

// Get returns nil without error when nothing is scheduled for user.
func (s *Service) Get(ctx context.Context, user string) (*ScheduledRenewal, error) {
	user = strings.ToLower(strings.TrimSpace(user))
	raw, err := s.kv.Get(ctx, scheduledKey(user))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r ScheduledRenewal
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode scheduled renewal %s: %w", user, err)
	}
	return &r, nil
}

// Cancel removes the user's schedule, if any.
func (s *Service) Cancel(ctx context.Context, user string) error {
	user = strings.ToLower(strings.TrimSpace(user))
	if err := s.kv.Del(ctx, scheduledKey(user)); err != nil {
		return fmt.Errorf("cancel scheduled renewal %s: %w", user, err)
	}
	audit.Log(ctx, s.logger, audit.EventRenewalCancelled, "user", user)
	return nil
}

// Pending lists every stored schedule in key-scan order. Undecodable
// records are logged and skipped.
func (s *Service) Pending(ctx context.Context) ([]*ScheduledRenewal, error) {
	keys, err := s.kv.Keys(ctx, scheduledKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan scheduled renewals: %w", err)
	}
	out := make([]*ScheduledRenewal, 0, len(keys))
	for _, key := range keys {
		r, err := s.Get(ctx, strings.TrimPrefix(key, scheduledKeyPrefix))
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable scheduled renewal", "key", key, "error", err)
			continue
		}
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// removeProcessed deletes r's stored schedule unless it was replaced after r
// was read. The boolean reports whether the stored record is gone.
func (s *Service) removeProcessed(ctx context.Context, r *ScheduledRenewal) (bool, error) {
	current, err := s.Get(ctx, r.User)
	if err != nil {
		return false, err
	}
	if current == nil {
		return true, nil
	}
	if !sameSchedule(current, r) {
		return false, nil
	}
	if err := s.kv.Del(ctx, scheduledKey(r.User)); err != nil {
		return false, err
	}
	return true, nil
}

func sameSchedule(a, b *ScheduledRenewal) bool {
	return a.Kind == b.Kind &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.RenewAt.Equal(b.RenewAt) &&
		a.TransactionHash == b.TransactionHash
}
