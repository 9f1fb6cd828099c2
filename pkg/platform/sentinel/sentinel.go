package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into safe defaults.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: key or entity does not exist in the store
// - ErrExpired: session/permission validity has elapsed
// - ErrAlreadyUsed: single-use resource (scheduled renewal, dedup marker) already consumed
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: store, ledger or provider temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
