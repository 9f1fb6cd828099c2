package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"permwatch/internal/kv"
	"permwatch/pkg/platform/audit"
	"permwatch/pkg/platform/sentinel"
	pstrings "permwatch/pkg/platform/strings"
	"permwatch/pkg/requestcontext"
)

const (
	permissionKeyPrefix = "permission:"

	// PermissionRetention keeps a permission readable this long past expiry.
	PermissionRetention = 30 * 24 * time.Hour
)

func permissionKey(user string) string { return permissionKeyPrefix + user }

// SavePermission upserts the user's single permission record.
func (s *Service) SavePermission(ctx context.Context, p Permission) (*Permission, error) {
	p.User = NormalizeAddress(p.User)
	if p.User == "" {
		return nil, errors.New("permission user is required")
	}
	p.WithdrawalAddress = NormalizeAddress(p.WithdrawalAddress)
	p.AllowedTokens = pstrings.DedupeAndTrimLower(p.AllowedTokens)

	now := requestcontext.Now(ctx)
	p.UpdatedAt = now
	if err := s.writePermission(ctx, &p, permissionTTL(p.ExpiresAt, now)); err != nil {
		return nil, err
	}

	audit.Log(ctx, s.logger, audit.EventPermissionSaved,
		"user", p.User, "expires_at", p.ExpiresAt, "active", p.Active, "tokens", len(p.AllowedTokens))
	return &p, nil
}

// permissionTTL keeps the record until PermissionRetention after expiry.
// A zero expiry means the record never expires.
func permissionTTL(expiresAt, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := expiresAt.Sub(now) + PermissionRetention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *Service) writePermission(ctx context.Context, p *Permission, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal permission %s: %w", p.User, err)
	}
	if err := s.kv.Set(ctx, permissionKey(p.User), string(data), ttl); err != nil {
		return fmt.Errorf("store permission %s: %w", p.User, err)
	}
	return nil
}

// GetPermission returns nil without error when the user has no permission.
func (s *Service) GetPermission(ctx context.Context, user string) (*Permission, error) {
	user = NormalizeAddress(user)
	raw, err := s.kv.Get(ctx, permissionKey(user))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p Permission
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode permission %s: %w", user, err)
	}
	return &p, nil
}

// IsPermissionActive fails closed.
func (s *Service) IsPermissionActive(ctx context.Context, user string) bool {
	p, err := s.GetPermission(ctx, user)
	if err != nil {
		s.logger.WarnContext(ctx, "permission check failed closed", "user", user, "error", err)
		return false
	}
	return p != nil && p.IsActive(requestcontext.Now(ctx))
}

// DeactivatePermission clears the active flag and keeps the record's
// remaining retention.
func (s *Service) DeactivatePermission(ctx context.Context, user string) error {
	p, err := s.GetPermission(ctx, user)
	if err != nil {
		return fmt.Errorf("deactivate permission %s: %w", user, err)
	}
	if p == nil {
		return fmt.Errorf("deactivate permission %s: %w", user, sentinel.ErrNotFound)
	}
	if !p.Active {
		return nil
	}

	now := requestcontext.Now(ctx)
	ttl, err := s.kv.TTL(ctx, permissionKey(p.User))
	if err != nil || ttl == kv.KeyMissing {
		ttl = PermissionRetention
	}
	if ttl == kv.NoExpiry {
		ttl = 0
	}
	p.Active = false
	p.UpdatedAt = now
	if err := s.writePermission(ctx, p, ttl); err != nil {
		return err
	}

	audit.Log(ctx, s.logger, audit.EventPermissionDeactivated, "user", p.User)
	return nil
}
