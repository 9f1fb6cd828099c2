// Package audit emits structured audit log lines for state changes that an
// operator may need to reconstruct later (session revocations, renewals,
// retention decisions).
package audit

// Event names an auditable action.
type Event string

const (
	// Session events
	EventSessionCreated  Event = "session_created"
	EventSessionRevoked  Event = "session_revoked"
	EventSessionExtended Event = "session_extended"

	// Permission events
	EventPermissionSaved       Event = "permission_saved"
	EventPermissionDeactivated Event = "permission_deactivated"

	// Renewal events
	EventRenewalScheduled Event = "renewal_scheduled"
	EventRenewalCancelled Event = "renewal_cancelled"
	EventRenewalSubmitted Event = "renewal_submitted"
	EventRenewalFailed    Event = "renewal_failed"

	// Retention events
	EventHistoryPurged   Event = "history_purged"
	EventHistoryGrace    Event = "history_grace_retention"
	EventHistoryRetained Event = "history_retained"

	// Settings events
	EventSettingsChanged Event = "settings_changed"
)
