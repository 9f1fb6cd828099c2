// Package notify delivers user notifications over the in-app inbox and
// external providers, with per-channel isolation, one-step fallback and
// dedup-by-key.
package notify

//go:generate mockgen -source=channel.go -destination=mocks/mocks.go -package=mocks Provider

import (
	"context"
	"errors"
)

// Channel is a delivery route.
type Channel string

const (
	ChannelInApp     Channel = "in_app"
	ChannelEmail     Channel = "email"
	ChannelTelegram  Channel = "telegram"
	ChannelFarcaster Channel = "farcaster"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelTelegram, ChannelFarcaster:
		return true
	default:
		return false
	}
}

// externalPreference is the order in which a user's first reachable
// external channel is picked when the caller names none.
var externalPreference = []Channel{ChannelEmail, ChannelTelegram, ChannelFarcaster}

// fallbacks maps a primary channel to the one retried when it fails.
var fallbacks = map[Channel]Channel{
	ChannelEmail:     ChannelTelegram,
	ChannelTelegram:  ChannelEmail,
	ChannelFarcaster: ChannelTelegram,
}

var (
	ErrNoRecipient     = errors.New("user has no contact for channel")
	ErrChannelDisabled = errors.New("channel not configured")
	ErrCircuitOpen     = errors.New("provider circuit open")
)

// Recipient carries the per-channel address of one user.
type Recipient struct {
	User      string
	Email     string
	Telegram  string
	Farcaster string
}

// Address returns the identifier used on ch, or "".
func (r Recipient) Address(ch Channel) string {
	switch ch {
	case ChannelInApp:
		return r.User
	case ChannelEmail:
		return r.Email
	case ChannelTelegram:
		return r.Telegram
	case ChannelFarcaster:
		return r.Farcaster
	default:
		return ""
	}
}

// Message is what a provider renders. Fallback marks a retry through a
// secondary channel after FallbackFrom failed.
type Message struct {
	Title        string
	Body         string
	DedupeKey    string
	Fallback     bool
	FallbackFrom Channel
}

// Provider delivers a message on one channel.
type Provider interface {
	Send(ctx context.Context, to Recipient, msg Message) error
}
