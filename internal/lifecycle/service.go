// Package lifecycle owns Session and Permission state plus the per-user
// settings and contact details the renewal and notification paths read.
//
// Sessions are stored with a key TTL equal to their remaining validity, so
// the store evicts them even if nobody reads them. Reads still check
// expiresAt and lazily revoke, because eviction is not instantaneous.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"permwatch/internal/kv"
	"permwatch/pkg/platform/audit"
	"permwatch/pkg/platform/sentinel"
	pstrings "permwatch/pkg/platform/strings"
	"permwatch/pkg/requestcontext"
)

const (
	sessionKeyPrefix      = "session:"
	userSessionsKeyPrefix = "userSessions:"

	// RevokedRetention is how long a revoked session stays readable for audit.
	RevokedRetention = 24 * time.Hour
)

func sessionKey(id string) string { return sessionKeyPrefix + id }

func userSessionsKey(user string) string { return userSessionsKeyPrefix + user }

// NormalizeAddress is the canonical form of a hex address used in keys.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Service implements session, permission, settings and contact operations
// over the shared key-value store.
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

func New(store kv.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	s := &Service{kv: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateSession stores a new active session valid for req.TTL.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	user := NormalizeAddress(req.UserAddress)
	if user == "" {
		return nil, errors.New("user address is required")
	}
	if strings.TrimSpace(req.Delegate) == "" {
		return nil, errors.New("delegate is required")
	}
	if req.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", req.TTL)
	}

	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	now := requestcontext.Now(ctx)
	session := &Session{
		ID:                id,
		UserAddress:       user,
		Delegate:          NormalizeAddress(req.Delegate),
		AllowedTokens:     pstrings.DedupeAndTrimLower(req.AllowedTokens),
		AllowEntireWallet: req.AllowEntireWallet,
		ExpiresAt:         now.Add(req.TTL),
		Active:            true,
		CreatedAt:         now,
	}

	if err := s.writeSession(ctx, session, req.TTL); err != nil {
		return nil, err
	}
	if err := s.kv.HSet(ctx, userSessionsKey(user), map[string]string{id: session.ExpiresAt.Format(time.RFC3339)}); err != nil {
		s.logger.WarnContext(ctx, "failed to index session", "session_id", id, "user", user, "error", err)
	}

	sessionsCreated.Inc()
	audit.Log(ctx, s.logger, audit.EventSessionCreated,
		"session_id", id, "user", user, "delegate", session.Delegate, "expires_at", session.ExpiresAt)
	return session, nil
}

func (s *Service) writeSession(ctx context.Context, session *Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	if err := s.kv.Set(ctx, sessionKey(session.ID), string(data), ttl); err != nil {
		return fmt.Errorf("store session %s: %w", session.ID, err)
	}
	return nil
}

func (s *Service) loadSession(ctx context.Context, id string) (*Session, error) {
	raw, err := s.kv.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}

// GetSession returns the session only while it is active. A session read
// past its expiry is revoked with ReasonExpired and reported as nil.
// A nil session with a nil error means "no usable session".
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	session, err := s.loadSession(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !session.Active {
		return nil, nil
	}
	if !session.IsActive(requestcontext.Now(ctx)) {
		if err := s.revoke(ctx, session, ReasonExpired); err != nil {
			s.logger.WarnContext(ctx, "lazy session revocation failed", "session_id", id, "error", err)
		}
		return nil, nil
	}
	return session, nil
}

// ValidateSession reports whether id names an active session. Any failure
// reads as invalid.
func (s *Service) ValidateSession(ctx context.Context, id string) bool {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		s.logger.WarnContext(ctx, "session validation failed closed", "session_id", id, "error", err)
		return false
	}
	return session != nil
}

// RevokeSession deactivates a session. Revoking an already revoked session
// is a no-op.
func (s *Service) RevokeSession(ctx context.Context, id string, reason RevokeReason) error {
	if !reason.IsValid() {
		return fmt.Errorf("revoke reason %q: %w", reason, sentinel.ErrInvalidState)
	}
	session, err := s.loadSession(ctx, id)
	if err != nil {
		return fmt.Errorf("revoke session %s: %w", id, err)
	}
	if !session.Active {
		return nil
	}
	return s.revoke(ctx, session, reason)
}

func (s *Service) revoke(ctx context.Context, session *Session, reason RevokeReason) error {
	now := requestcontext.Now(ctx)
	session.Active = false
	session.RevokedAt = &now
	session.RevokeReason = reason

	if err := s.writeSession(ctx, session, RevokedRetention); err != nil {
		return err
	}
	if err := s.kv.HDel(ctx, userSessionsKey(session.UserAddress), session.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to unindex session", "session_id", session.ID, "error", err)
	}

	sessionsRevoked.WithLabelValues(string(reason)).Inc()
	audit.Log(ctx, s.logger, audit.EventSessionRevoked,
		"session_id", session.ID, "user", session.UserAddress, "reason", string(reason))
	return nil
}

// ExtendSession moves expiresAt to now+ttl and resets the storage TTL to
// match. Sessions that are gone, revoked or already expired cannot be
// extended.
func (s *Service) ExtendSession(ctx context.Context, id string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	session, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("extend session %s: %w", id, err)
	}
	if !session.Active {
		return nil, fmt.Errorf("extend session %s: %w", id, sentinel.ErrInvalidState)
	}

	now := requestcontext.Now(ctx)
	if !session.IsActive(now) {
		if err := s.revoke(ctx, session, ReasonExpired); err != nil {
			s.logger.WarnContext(ctx, "lazy session revocation failed", "session_id", id, "error", err)
		}
		return nil, fmt.Errorf("extend session %s: %w", id, sentinel.ErrExpired)
	}

	session.ExpiresAt = now.Add(ttl)
	if err := s.writeSession(ctx, session, ttl); err != nil {
		return nil, err
	}
	if err := s.kv.HSet(ctx, userSessionsKey(session.UserAddress), map[string]string{id: session.ExpiresAt.Format(time.RFC3339)}); err != nil {
		s.logger.WarnContext(ctx, "failed to reindex session", "session_id", id, "error", err)
	}

	audit.Log(ctx, s.logger, audit.EventSessionExtended,
		"session_id", id, "user", session.UserAddress, "expires_at", session.ExpiresAt)
	return session, nil
}

// ListUserSessions returns the user's active sessions and drops index
// entries that no longer resolve to one.
func (s *Service) ListUserSessions(ctx context.Context, user string) []*Session {
	user = NormalizeAddress(user)
	ids, err := s.kv.HGetAll(ctx, userSessionsKey(user))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to list sessions", "user", user, "error", err)
		return []*Session{}
	}

	sessions := make([]*Session, 0, len(ids))
	var stale []string
	for id := range ids {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to load session", "session_id", id, "error", err)
			continue
		}
		if session == nil {
			stale = append(stale, id)
			continue
		}
		sessions = append(sessions, session)
	}
	if len(stale) > 0 {
		if err := s.kv.HDel(ctx, userSessionsKey(user), stale...); err != nil {
			s.logger.WarnContext(ctx, "failed to prune session index", "user", user, "error", err)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}
