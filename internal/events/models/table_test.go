package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permwatch/internal/ledger"
)

func TestTableCoversEveryEvent(t *testing.T) {
	for _, name := range ledger.AllEventNames() {
		rule, ok := Lookup(name)
		require.True(t, ok, "missing rule for %s", name)
		assert.True(t, rule.Category.IsValid(), "bad category for %s", name)
		assert.True(t, rule.Severity.IsValid(), "bad severity for %s", name)
	}
	assert.Len(t, table, len(ledger.AllEventNames()))
}

func TestSeverityOverrides(t *testing.T) {
	critical := []ledger.EventName{
		ledger.EventPermissionForceRevoked,
		ledger.EventOwnershipTransferred,
		ledger.EventOwnerChanged,
	}
	for _, name := range critical {
		rule, _ := Lookup(name)
		assert.Equal(t, SeverityCritical, rule.Severity, name)
	}

	revoked, _ := Lookup(ledger.EventPermissionRevoked)
	assert.Equal(t, SeverityHigh, revoked.Severity)

	for _, name := range []ledger.EventName{ledger.EventPermissionGranted, ledger.EventPermissionUpdated} {
		rule, _ := Lookup(name)
		assert.Equal(t, SeverityMedium, rule.Severity, name)
	}

	sessionRevoked, _ := Lookup(ledger.EventMiniAppSessionRevoked)
	assert.Equal(t, SeverityHigh, sessionRevoked.Severity)

	for _, name := range []ledger.EventName{
		ledger.EventTransferPerformed,
		ledger.EventPaused,
		ledger.EventUpgraded,
		ledger.EventTokenStopped,
		ledger.EventOracleFallbackUsed,
		ledger.EventRoleRevoked,
		ledger.EventWhitelistChanged,
	} {
		rule, _ := Lookup(name)
		assert.Equal(t, SeverityLow, rule.Severity, name)
	}
}

func TestOnlyGrantsAndRevocationsReachUsers(t *testing.T) {
	notable := map[ledger.EventName]bool{
		ledger.EventPermissionGranted:      true,
		ledger.EventPermissionUpdated:      true,
		ledger.EventPermissionGrantedBySig: true,
		ledger.EventPermissionRevoked:      true,
		ledger.EventPermissionForceRevoked: true,
		ledger.EventMiniAppSessionGranted:  true,
		ledger.EventMiniAppSessionRevoked:  true,
		ledger.EventOwnershipTransferred:   true,
		ledger.EventOwnerChanged:           true,
	}
	for _, name := range ledger.AllEventNames() {
		rule, _ := Lookup(name)
		assert.Equal(t, notable[name], rule.Severity.AtLeast(SeverityMedium), name)
	}
}

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityMedium.AtLeast(SeverityMedium))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.False(t, Severity("info").IsValid())
}

func TestPayloadHelpers(t *testing.T) {
	ev := DomainEvent{Payload: map[string]any{
		"expiresAt":     "1900000000",
		"allowedTokens": []any{"0xaa", "0xbb"},
		"flag":          true,
	}}

	ts, err := ev.PayloadTime("expiresAt")
	require.NoError(t, err)
	assert.Equal(t, int64(1_900_000_000), ts.Unix())
	assert.Equal(t, []string{"0xaa", "0xbb"}, ev.PayloadStrings("allowedTokens"))
	assert.True(t, ev.PayloadBool("flag"))

	_, err = ev.PayloadTime("missing")
	assert.Error(t, err)
}

func TestDedupKey(t *testing.T) {
	ev := DomainEvent{TransactionHash: "0xfeed", LogIndex: 4}
	assert.Equal(t, "0xfeed:4", ev.DedupKey())
}
