package lifecycle

import (
	"errors"
	"time"

	"permwatch/pkg/platform/sentinel"
)

func (s *ServiceSuite) TestPermissions() {
	s.Run("missing permission is nil and inactive", func() {
		p, err := s.service.GetPermission(s.ctx(), user)
		s.Require().NoError(err)
		s.Nil(p)
		s.False(s.service.IsPermissionActive(s.ctx(), user))
	})

	s.Run("save normalizes and retains past expiry", func() {
		saved, err := s.service.SavePermission(s.ctx(), Permission{
			User:              "0xAB00000000000000000000000000000000000001",
			WithdrawalAddress: "0xFEED",
			AllowedTokens:     []string{"0xA", "0xa", "0xB"},
			ExpiresAt:         s.now.Add(48 * time.Hour),
			Active:            true,
		})
		s.Require().NoError(err)
		s.Equal(user, saved.User)
		s.Equal("0xfeed", saved.WithdrawalAddress)
		s.Equal([]string{"0xa", "0xb"}, saved.AllowedTokens)

		ttl, err := s.kv.TTL(s.ctx(), "permission:"+user)
		s.Require().NoError(err)
		s.Equal(48*time.Hour+PermissionRetention, ttl)

		s.True(s.service.IsPermissionActive(s.ctx(), user))
	})

	s.Run("active flag alone is not enough", func() {
		s.advance(49 * time.Hour)
		p, err := s.service.GetPermission(s.ctx(), user)
		s.Require().NoError(err)
		s.Require().NotNil(p)
		s.True(p.Active)
		s.False(s.service.IsPermissionActive(s.ctx(), user))
	})

	s.Run("save replaces the single record", func() {
		_, err := s.service.SavePermission(s.ctx(), Permission{
			User:      user,
			ExpiresAt: s.now.Add(time.Hour),
			Active:    true,
		})
		s.Require().NoError(err)
		s.True(s.service.IsPermissionActive(s.ctx(), user))

		keys, err := s.kv.Keys(s.ctx(), "permission:")
		s.Require().NoError(err)
		s.Len(keys, 1)
	})

	s.Run("deactivate keeps retention", func() {
		before, err := s.kv.TTL(s.ctx(), "permission:"+user)
		s.Require().NoError(err)

		s.Require().NoError(s.service.DeactivatePermission(s.ctx(), user))
		s.False(s.service.IsPermissionActive(s.ctx(), user))

		after, err := s.kv.TTL(s.ctx(), "permission:"+user)
		s.Require().NoError(err)
		s.Equal(before, after)

		s.NoError(s.service.DeactivatePermission(s.ctx(), user))
	})

	s.Run("deactivate missing", func() {
		err := s.service.DeactivatePermission(s.ctx(), "0xnobody")
		s.True(errors.Is(err, sentinel.ErrNotFound))
	})
}

func (s *ServiceSuite) TestSettingsAndContacts() {
	s.False(s.service.PurgeMode(s.ctx(), user))
	s.False(s.service.AutoRenew(s.ctx(), user))

	s.Require().NoError(s.service.SetPurgeMode(s.ctx(), "0xAB00000000000000000000000000000000000001", true))
	s.Require().NoError(s.service.SetAutoRenew(s.ctx(), user, true))
	s.True(s.service.PurgeMode(s.ctx(), user))
	s.True(s.service.AutoRenew(s.ctx(), user))

	s.Require().NoError(s.service.SetPurgeMode(s.ctx(), user, false))
	s.False(s.service.PurgeMode(s.ctx(), user))

	s.Equal(Contacts{}, s.service.Contacts(s.ctx(), user))

	s.Require().NoError(s.service.SetContacts(s.ctx(), user, Contacts{Email: "a@example.com", Telegram: "42"}))
	s.Equal(Contacts{Email: "a@example.com", Telegram: "42"}, s.service.Contacts(s.ctx(), user))

	s.Require().NoError(s.service.SetContacts(s.ctx(), user, Contacts{Farcaster: "alice"}))
	s.Equal(Contacts{Farcaster: "alice"}, s.service.Contacts(s.ctx(), user))
}
