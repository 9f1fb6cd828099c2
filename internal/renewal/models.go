package renewal

import (
	"time"

	"permwatch/internal/ledger"
)

// Kind says what a due ScheduledRenewal should do.
type Kind string

const (
	// KindRenew replays the stored renewal on-chain.
	KindRenew Kind = "renew"
	// KindRevoke finalizes retention after a revocation.
	KindRevoke Kind = "revoke"
	// KindExpire finalizes retention after a permission lapsed.
	KindExpire Kind = "expire"
)

func (k Kind) IsValid() bool {
	return k == KindRenew || k == KindRevoke || k == KindExpire
}

// ScheduledRenewal is a single-use future action for one user. A newer
// schedule for the same user replaces the older one.
type ScheduledRenewal struct {
	User            string             `json:"user"`
	Kind            Kind               `json:"kind"`
	RenewAt         time.Time          `json:"renew_at"`
	Args            ledger.RenewalArgs `json:"args"`
	OracleTimestamp *time.Time         `json:"oracle_timestamp,omitempty"`
	TransactionHash string             `json:"transaction_hash,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Due reports whether the record should be processed at now.
func (r *ScheduledRenewal) Due(now time.Time) bool {
	return !r.RenewAt.After(now)
}

// AuditRecord is the minimal durable trace written for every processed
// ScheduledRenewal, regardless of the user's purge mode.
type AuditRecord struct {
	User            string     `json:"user"`
	Kind            Kind       `json:"kind"`
	RenewAt         time.Time  `json:"renew_at"`
	OracleTimestamp *time.Time `json:"oracle_timestamp,omitempty"`
	TransactionHash string     `json:"transaction_hash,omitempty"`
	RevokedAt       time.Time  `json:"revoked_at"`
	PurgeMode       bool       `json:"purge_mode"`
}
