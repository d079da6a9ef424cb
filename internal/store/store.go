package store

// Store defines the interface for admission-control persistence backends.
type Store interface {
	// Initialize creates tables and indexes.
	Initialize() error

	// Close cleanly shuts down the store.
	Close() error

	// Activity
	InsertActivity(a *Activity) error
	ListActivity(filter ActivityFilter) ([]*Activity, error)

	// Violations
	InsertViolation(v *Violation) error
	GetViolation(id string) (*Violation, error)
	ResolveViolation(id, grantedBy string) error
	ListViolations(agentID string, limit int) ([]*Violation, error)

	// Emergency state
	UpsertEmergencyState(s *EmergencyState) error
	ListEmergencyStates() ([]*EmergencyState, error)
	InsertEmergencyEvent(e *EmergencyEvent) error
	ListEmergencyEvents(agentID string, limit int) ([]*EmergencyEvent, error)

	// Gate audit
	InsertGateAudit(g *GateAudit) error
	ListGateAudits(limit int) ([]*GateAudit, error)

	// Maintenance
	PruneOlderThan(days int) (int64, error)
	GetSystemStats() (*SystemStats, error)
}
