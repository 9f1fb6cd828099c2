package lifecycle

import (
	"time"
)

// RevokeReason is recorded for audit. It does not change how a session is
// revoked.
type RevokeReason string

const (
	ReasonUserRequest       RevokeReason = "user_request"
	ReasonAdminAction       RevokeReason = "admin_action"
	ReasonExpired           RevokeReason = "expired"
	ReasonSecurityViolation RevokeReason = "security_violation"
)

func (r RevokeReason) IsValid() bool {
	switch r {
	case ReasonUserRequest, ReasonAdminAction, ReasonExpired, ReasonSecurityViolation:
		return true
	default:
		return false
	}
}

// Session is a time-boxed delegation of wallet capability to a third party
// such as a mini-app.
type Session struct {
	ID                string       `json:"session_id"`
	UserAddress       string       `json:"user_address"`
	Delegate          string       `json:"delegate"`
	AllowedTokens     []string     `json:"allowed_tokens"`
	AllowEntireWallet bool         `json:"allow_entire_wallet"`
	ExpiresAt         time.Time    `json:"expires_at"`
	Active            bool         `json:"active"`
	CreatedAt         time.Time    `json:"created_at"`
	RevokedAt         *time.Time   `json:"revoked_at,omitempty"`
	RevokeReason      RevokeReason `json:"revoke_reason,omitempty"`
}

// IsActive is the lazy-expiry check: a stored active flag is not enough.
func (s *Session) IsActive(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}

// CreateSessionRequest carries the inputs for CreateSession. SessionID is
// optional; one is generated when empty.
type CreateSessionRequest struct {
	SessionID         string
	UserAddress       string
	Delegate          string
	AllowedTokens     []string
	AllowEntireWallet bool
	TTL               time.Duration
}

// Permission is the user's standing authorization configuration. There is at
// most one per user.
type Permission struct {
	User              string            `json:"user"`
	WithdrawalAddress string            `json:"withdrawal_address"`
	AllowedTokens     []string          `json:"allowed_tokens"`
	TokenLimits       map[string]string `json:"token_limits,omitempty"`
	ExpiresAt         time.Time         `json:"expires_at"`
	Active            bool              `json:"active"`
	TransactionHash   string            `json:"transaction_hash,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// IsActive is the explicit flag AND an unexpired validity window.
func (p *Permission) IsActive(now time.Time) bool {
	return p.Active && p.ExpiresAt.After(now)
}

// Contacts holds the per-channel recipient identifiers for a user.
type Contacts struct {
	Email     string `json:"email,omitempty"`
	Telegram  string `json:"telegram,omitempty"`
	Farcaster string `json:"farcaster,omitempty"`
}
