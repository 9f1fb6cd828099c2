// Package ledger is the narrow boundary to the chain: read logs for one
// event type, read the chain head, read a user's on-chain permission and
// submit a renewal transaction.
package ledger

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client

import (
	"context"
	"time"
)

// RawLog is a decoded contract log before classification. Payload holds
// JSON-friendly values only: hex strings for addresses and hashes, decimal
// strings for integers, []string for address arrays, and bools.
type RawLog struct {
	Name        EventName      `json:"name"`
	Address     string         `json:"address"`
	TxHash      string         `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	LogIndex    uint           `json:"log_index"`
	User        string         `json:"user,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Removed     bool           `json:"removed,omitempty"`
}

// RenewalArgs are replayed on-chain by the renewal scheduler.
type RenewalArgs struct {
	User              string    `json:"user"`
	WithdrawalAddress string    `json:"withdrawal_address"`
	AllowedTokens     []string  `json:"allowed_tokens"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// OnChainPermission mirrors the contract's permission struct.
type OnChainPermission struct {
	User              string
	WithdrawalAddress string
	AllowedTokens     []string
	ExpiresAt         time.Time
	Active            bool
}

// Client is consumed by the poller and the renewal scheduler.
type Client interface {
	GetLogs(ctx context.Context, fromBlock, toBlock uint64, name EventName) ([]RawLog, error)
	GetLatestBlock(ctx context.Context) (uint64, error)
	SubmitRenewal(ctx context.Context, args RenewalArgs) (string, error)
	ReadPermission(ctx context.Context, user string) (*OnChainPermission, error)
}
