package lifecycle

import (
	"context"
	"strconv"

	"permwatch/pkg/platform/audit"
)

const (
	settingsKeyPrefix = "userSettings:"
	contactsKeyPrefix = "userContacts:"

	fieldPurgeMode = "purgeMode"
	fieldAutoRenew = "autoRenew"

	fieldEmail     = "email"
	fieldTelegram  = "telegram"
	fieldFarcaster = "farcaster"
)

func settingsKey(user string) string { return settingsKeyPrefix + user }

func contactsKey(user string) string { return contactsKeyPrefix + user }

func (s *Service) setFlag(ctx context.Context, user, field string, on bool) error {
	user = NormalizeAddress(user)
	if err := s.kv.HSet(ctx, settingsKey(user), map[string]string{field: strconv.FormatBool(on)}); err != nil {
		return err
	}
	audit.Log(ctx, s.logger, audit.EventSettingsChanged, "user", user, "setting", field, "value", on)
	return nil
}

// flag reads a boolean setting. Missing or unreadable settings read as off.
func (s *Service) flag(ctx context.Context, user, field string) bool {
	user = NormalizeAddress(user)
	raw, err := s.kv.HGet(ctx, settingsKey(user), field)
	if err != nil {
		return false
	}
	on, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring malformed setting", "user", user, "setting", field, "value", raw)
		return false
	}
	return on
}

// SetPurgeMode chooses immediate deletion (true) or 30-day grace retention
// (false) of the user's event history on revocation or expiry.
func (s *Service) SetPurgeMode(ctx context.Context, user string, purge bool) error {
	return s.setFlag(ctx, user, fieldPurgeMode, purge)
}

// PurgeMode defaults to false, which retains history.
func (s *Service) PurgeMode(ctx context.Context, user string) bool {
	return s.flag(ctx, user, fieldPurgeMode)
}

func (s *Service) SetAutoRenew(ctx context.Context, user string, on bool) error {
	return s.setFlag(ctx, user, fieldAutoRenew, on)
}

func (s *Service) AutoRenew(ctx context.Context, user string) bool {
	return s.flag(ctx, user, fieldAutoRenew)
}

// SetContacts replaces the user's contact details. Empty fields are removed.
func (s *Service) SetContacts(ctx context.Context, user string, c Contacts) error {
	user = NormalizeAddress(user)
	set := make(map[string]string, 3)
	var clear []string
	for field, value := range map[string]string{
		fieldEmail:     c.Email,
		fieldTelegram:  c.Telegram,
		fieldFarcaster: c.Farcaster,
	} {
		if value == "" {
			clear = append(clear, field)
			continue
		}
		set[field] = value
	}

	if len(set) > 0 {
		if err := s.kv.HSet(ctx, contactsKey(user), set); err != nil {
			return err
		}
	}
	if len(clear) > 0 {
		if err := s.kv.HDel(ctx, contactsKey(user), clear...); err != nil {
			return err
		}
	}
	return nil
}

// Contacts returns the user's contact details, empty on any failure.
func (s *Service) Contacts(ctx context.Context, user string) Contacts {
	user = NormalizeAddress(user)
	fields, err := s.kv.HGetAll(ctx, contactsKey(user))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to read contacts", "user", user, "error", err)
		return Contacts{}
	}
	return Contacts{
		Email:     fields[fieldEmail],
		Telegram:  fields[fieldTelegram],
		Farcaster: fields[fieldFarcaster],
	}
}
