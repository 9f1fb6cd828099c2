package models

import (
	"fmt"

	"permwatch/internal/ledger"
)

// Rule is the static classification of one event name.
type Rule struct {
	Category Category
	Severity Severity
}

// table is the single source of truth for category and severity. Every
// ledger.AllEventNames entry must appear here; init enforces it.
var table = map[ledger.EventName]Rule{
	ledger.EventTransferPerformed: {CategoryTransfer, SeverityLow},

	ledger.EventPermissionGranted:      {CategoryPermission, SeverityMedium},
	ledger.EventPermissionUpdated:      {CategoryPermission, SeverityMedium},
	ledger.EventPermissionGrantedBySig: {CategoryPermission, SeverityMedium},
	ledger.EventPermissionRevoked:      {CategoryPermission, SeverityHigh},
	ledger.EventPermissionForceRevoked: {CategorySecurity, SeverityCritical},

	ledger.EventMiniAppSessionGranted: {CategorySession, SeverityMedium},
	ledger.EventMiniAppSessionRevoked: {CategorySession, SeverityHigh},
	ledger.EventMiniAppSessionAction:  {CategorySession, SeverityLow},

	ledger.EventOwnershipTransferred: {CategorySecurity, SeverityCritical},
	ledger.EventOwnerChanged:         {CategorySecurity, SeverityCritical},
	ledger.EventPaused:               {CategorySecurity, SeverityLow},
	ledger.EventUpgraded:             {CategorySecurity, SeverityLow},

	// Contract administration never touches a user's grant, so none of it
	// reaches users as a notice.
	ledger.EventRoleGranted:       {CategoryAdmin, SeverityLow},
	ledger.EventRoleRevoked:       {CategoryAdmin, SeverityLow},
	ledger.EventUnpaused:          {CategoryAdmin, SeverityLow},
	ledger.EventTokenStopped:      {CategoryAdmin, SeverityLow},
	ledger.EventTokenRemoved:      {CategoryAdmin, SeverityLow},
	ledger.EventWhitelistChanged:  {CategoryAdmin, SeverityLow},
	ledger.EventEntryPointChanged: {CategoryAdmin, SeverityLow},
	ledger.EventGnosisSafeChanged: {CategoryAdmin, SeverityLow},

	ledger.EventChainlinkOracleChanged: {CategoryOracle, SeverityLow},
	ledger.EventOracleFallbackUsed:     {CategoryOracle, SeverityLow},
}

func init() {
	for _, name := range ledger.AllEventNames() {
		if _, ok := table[name]; !ok {
			panic(fmt.Sprintf("events/models: no classification rule for %s", name))
		}
	}
}

// Lookup returns the classification rule for name.
func Lookup(name ledger.EventName) (Rule, bool) {
	rule, ok := table[name]
	return rule, ok
}
