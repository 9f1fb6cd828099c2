package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"permwatch/internal/kv"
	"permwatch/pkg/platform/sentinel"
	"permwatch/pkg/requestcontext"
)

const (
	user     = "0xab00000000000000000000000000000000000001"
	delegate = "0xde00000000000000000000000000000000000002"
)

type ServiceSuite struct {
	suite.Suite
	now     time.Time
	kv      *kv.MemoryStore
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.kv = kv.NewMemory(kv.WithClock(func() time.Time { return s.now }))
	svc, err := New(s.kv)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *ServiceSuite) createSession(ttl time.Duration) *Session {
	session, err := s.service.CreateSession(s.ctx(), CreateSessionRequest{
		UserAddress:   "0xAB00000000000000000000000000000000000001",
		Delegate:      delegate,
		AllowedTokens: []string{"0xTOKEN", "0xtoken", " "},
		TTL:           ttl,
	})
	s.Require().NoError(err)
	return session
}

func (s *ServiceSuite) TestCreateSession() {
	s.Run("stores an active session with storage ttl", func() {
		session := s.createSession(time.Hour)

		s.NotEmpty(session.ID)
		s.Equal(user, session.UserAddress)
		s.Equal([]string{"0xtoken"}, session.AllowedTokens)
		s.Equal(s.now.Add(time.Hour), session.ExpiresAt)
		s.True(session.Active)

		ttl, err := s.kv.TTL(s.ctx(), "session:"+session.ID)
		s.Require().NoError(err)
		s.Equal(time.Hour, ttl)

		got, err := s.service.GetSession(s.ctx(), session.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(session.ID, got.ID)
	})

	s.Run("rejects bad input", func() {
		_, err := s.service.CreateSession(s.ctx(), CreateSessionRequest{UserAddress: user, Delegate: delegate})
		s.Error(err)

		_, err = s.service.CreateSession(s.ctx(), CreateSessionRequest{Delegate: delegate, TTL: time.Hour})
		s.Error(err)

		_, err = s.service.CreateSession(s.ctx(), CreateSessionRequest{UserAddress: user, TTL: time.Hour})
		s.Error(err)
	})

	s.Run("honours a caller supplied id", func() {
		session, err := s.service.CreateSession(s.ctx(), CreateSessionRequest{
			SessionID:   "0xsession",
			UserAddress: user,
			Delegate:    delegate,
			TTL:         time.Minute,
		})
		s.Require().NoError(err)
		s.Equal("0xsession", session.ID)
	})
}

func (s *ServiceSuite) TestLazyExpiry() {
	session := s.createSession(10 * time.Second)

	// The memory store evicts on read, so move the clock used for lazy
	// checks past expiry without letting the store TTL fire.
	ctx := requestcontext.WithTime(context.Background(), s.now.Add(11*time.Second))

	got, err := s.service.GetSession(ctx, session.ID)
	s.Require().NoError(err)
	s.Nil(got)
	s.False(s.service.ValidateSession(ctx, session.ID))

	stored, err := s.service.loadSession(s.ctx(), session.ID)
	s.Require().NoError(err)
	s.False(stored.Active)
	s.Equal(ReasonExpired, stored.RevokeReason)
	s.Require().NotNil(stored.RevokedAt)

	ttl, err := s.kv.TTL(s.ctx(), "session:"+session.ID)
	s.Require().NoError(err)
	s.Equal(RevokedRetention, ttl)
}

func (s *ServiceSuite) TestValidateSession() {
	session := s.createSession(time.Hour)
	s.True(s.service.ValidateSession(s.ctx(), session.ID))
	s.False(s.service.ValidateSession(s.ctx(), "missing"))

	s.advance(2 * time.Hour)
	s.False(s.service.ValidateSession(s.ctx(), session.ID))
}

type brokenStore struct {
	kv.Store
}

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", sentinel.ErrUnavailable
}

func (brokenStore) HGet(context.Context, string, string) (string, error) {
	return "", sentinel.ErrUnavailable
}

func (s *ServiceSuite) TestValidateSessionFailsClosed() {
	svc, err := New(brokenStore{})
	s.Require().NoError(err)

	s.False(svc.ValidateSession(s.ctx(), "any"))
	s.False(svc.IsPermissionActive(s.ctx(), user))
	s.False(svc.PurgeMode(s.ctx(), user))
}

func (s *ServiceSuite) TestRevokeSession() {
	session := s.createSession(time.Hour)

	s.Run("invalid reason", func() {
		err := s.service.RevokeSession(s.ctx(), session.ID, "because")
		s.True(errors.Is(err, sentinel.ErrInvalidState))
	})

	s.Run("revokes and unindexes", func() {
		s.Require().NoError(s.service.RevokeSession(s.ctx(), session.ID, ReasonSecurityViolation))

		got, err := s.service.GetSession(s.ctx(), session.ID)
		s.Require().NoError(err)
		s.Nil(got)

		stored, err := s.service.loadSession(s.ctx(), session.ID)
		s.Require().NoError(err)
		s.Equal(ReasonSecurityViolation, stored.RevokeReason)

		s.Empty(s.service.ListUserSessions(s.ctx(), user))
	})

	s.Run("second revoke keeps the first reason", func() {
		s.Require().NoError(s.service.RevokeSession(s.ctx(), session.ID, ReasonUserRequest))

		stored, err := s.service.loadSession(s.ctx(), session.ID)
		s.Require().NoError(err)
		s.Equal(ReasonSecurityViolation, stored.RevokeReason)
	})

	s.Run("missing session", func() {
		err := s.service.RevokeSession(s.ctx(), "missing", ReasonUserRequest)
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})
}

func (s *ServiceSuite) TestExtendSession() {
	s.Run("extends a session about to expire", func() {
		session := s.createSession(10 * time.Second)

		extended, err := s.service.ExtendSession(s.ctx(), session.ID, 3600*time.Second)
		s.Require().NoError(err)
		s.Equal(s.now.Add(time.Hour), extended.ExpiresAt)

		s.advance(time.Minute)
		got, err := s.service.GetSession(s.ctx(), session.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(extended.ExpiresAt, got.ExpiresAt)

		ttl, err := s.kv.TTL(s.ctx(), "session:"+session.ID)
		s.Require().NoError(err)
		s.Equal(59*time.Minute, ttl)
	})

	s.Run("expired sessions cannot be extended", func() {
		session := s.createSession(10 * time.Second)
		ctx := requestcontext.WithTime(context.Background(), s.now.Add(time.Minute))

		_, err := s.service.ExtendSession(ctx, session.ID, time.Hour)
		s.True(errors.Is(err, sentinel.ErrExpired))
	})

	s.Run("revoked sessions cannot be extended", func() {
		session := s.createSession(time.Hour)
		s.Require().NoError(s.service.RevokeSession(s.ctx(), session.ID, ReasonUserRequest))

		_, err := s.service.ExtendSession(s.ctx(), session.ID, time.Hour)
		s.True(errors.Is(err, sentinel.ErrInvalidState))
	})

	s.Run("missing and non-positive ttl", func() {
		_, err := s.service.ExtendSession(s.ctx(), "missing", time.Hour)
		s.True(errors.Is(err, sentinel.ErrNotFound))

		_, err = s.service.ExtendSession(s.ctx(), "missing", 0)
		s.Error(err)
	})
}

func (s *ServiceSuite) TestListUserSessions() {
	first := s.createSession(time.Hour)
	s.advance(time.Second)
	second := s.createSession(time.Minute)

	sessions := s.service.ListUserSessions(s.ctx(), user)
	s.Require().Len(sessions, 2)
	s.Equal(first.ID, sessions[0].ID)
	s.Equal(second.ID, sessions[1].ID)

	s.advance(2 * time.Minute)
	sessions = s.service.ListUserSessions(s.ctx(), user)
	s.Require().Len(sessions, 1)
	s.Equal(first.ID, sessions[0].ID)

	index, err := s.kv.HGetAll(s.ctx(), "userSessions:"+user)
	s.Require().NoError(err)
	s.Len(index, 1)
}
