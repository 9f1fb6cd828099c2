package ledger

// EventName identifies one of the contract events the poller tracks.
type EventName string

const (
	EventTransferPerformed      EventName = "TransferPerformed"
	EventPermissionGranted      EventName = "PermissionGranted"
	EventPermissionUpdated      EventName = "PermissionUpdated"
	EventPermissionRevoked      EventName = "PermissionRevoked"
	EventPermissionForceRevoked EventName = "PermissionForceRevoked"
	EventPermissionGrantedBySig EventName = "PermissionGrantedBySig"
	EventMiniAppSessionGranted  EventName = "MiniAppSessionGranted"
	EventMiniAppSessionRevoked  EventName = "MiniAppSessionRevoked"
	EventMiniAppSessionAction   EventName = "MiniAppSessionAction"
	EventRoleGranted            EventName = "RoleGranted"
	EventRoleRevoked            EventName = "RoleRevoked"
	EventOwnershipTransferred   EventName = "OwnershipTransferred"
	EventOwnerChanged           EventName = "OwnerChanged"
	EventPaused                 EventName = "Paused"
	EventUnpaused               EventName = "Unpaused"
	EventUpgraded               EventName = "Upgraded"
	EventTokenStopped           EventName = "TokenStopped"
	EventTokenRemoved           EventName = "TokenRemoved"
	EventChainlinkOracleChanged EventName = "ChainlinkOracleChanged"
	EventWhitelistChanged       EventName = "WhitelistChanged"
	EventOracleFallbackUsed     EventName = "OracleFallbackUsed"
	EventEntryPointChanged      EventName = "EntryPointChanged"
	EventGnosisSafeChanged      EventName = "GnosisSafeChanged"
)

var allEventNames = []EventName{
	EventTransferPerformed,
	EventPermissionGranted,
	EventPermissionUpdated,
	EventPermissionRevoked,
	EventPermissionForceRevoked,
	EventPermissionGrantedBySig,
	EventMiniAppSessionGranted,
	EventMiniAppSessionRevoked,
	EventMiniAppSessionAction,
	EventRoleGranted,
	EventRoleRevoked,
	EventOwnershipTransferred,
	EventOwnerChanged,
	EventPaused,
	EventUnpaused,
	EventUpgraded,
	EventTokenStopped,
	EventTokenRemoved,
	EventChainlinkOracleChanged,
	EventWhitelistChanged,
	EventOracleFallbackUsed,
	EventEntryPointChanged,
	EventGnosisSafeChanged,
}

// AllEventNames returns the tracked events in polling order.
func AllEventNames() []EventName {
	out := make([]EventName, len(allEventNames))
	copy(out, allEventNames)
	return out
}

// Valid reports whether n is one of the tracked events.
func (n EventName) Valid() bool {
	for _, known := range allEventNames {
		if n == known {
			return true
		}
	}
	return false
}

func (n EventName) String() string { return string(n) }
