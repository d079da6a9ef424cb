package store

import (
	"time"
)

// Activity is one admission attempt, recorded regardless of outcome. The
// audit trail is append-only: records are pruned by retention, never edited.
type Activity struct {
	ID        string    `json:"id" db:"id"`
	AgentID   string    `json:"agent_id" db:"agent_id"`
	Operation string    `json:"operation" db:"operation"`
	Approved  bool      `json:"approved" db:"approved"`
	Reasons   []string  `json:"reasons,omitempty" db:"reasons"`
	Emergency bool      `json:"emergency" db:"emergency"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Violation records a rate-limit breach. It is retained for audit and can
// only be mutated by an explicit human override.
type Violation struct {
	ID              string        `json:"id" db:"id"`
	AgentID         string        `json:"agent_id" db:"agent_id"`
	Category        string        `json:"category" db:"category"`
	Severity        string        `json:"severity" db:"severity"`
	CurrentCount    int           `json:"current_count" db:"current_count"`
	Threshold       int           `json:"threshold" db:"threshold"`
	Window          time.Duration `json:"window" db:"window"`
	Timestamp       time.Time     `json:"timestamp" db:"timestamp"`
	Resolved        bool          `json:"resolved" db:"resolved"`
	OverrideGranted bool          `json:"override_granted" db:"override_granted"`
	GrantedBy       string        `json:"granted_by,omitempty" db:"granted_by"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// EmergencyState is the durable per-agent pause/stop record. One row per
// agent, upserted on every transition so state survives process restart.
type EmergencyState struct {
	AgentID   string     `json:"agent_id" db:"agent_id"`
	IsPaused  bool       `json:"is_paused" db:"is_paused"`
	IsStopped bool       `json:"is_stopped" db:"is_stopped"`
	PausedAt  *time.Time `json:"paused_at,omitempty" db:"paused_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty" db:"stopped_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// EmergencyEvent is one append-only entry in an agent's emergency history.
type EmergencyEvent struct {
	ID          string    `json:"id" db:"id"`
	AgentID     string    `json:"agent_id" db:"agent_id"`
	Action      string    `json:"action" db:"action"` // pause, stop, resume, block
	Severity    string    `json:"severity" db:"severity"`
	InitiatedBy string    `json:"initiated_by" db:"initiated_by"`
	Reason      string    `json:"reason" db:"reason"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// GateAudit records one completed confirmation-gate run. The live session
// lives in the gate transport; only the outcome is persisted here.
type GateAudit struct {
	ID         string    `json:"id" db:"id"`
	AgentID    string    `json:"agent_id" db:"agent_id"`
	Operation  string    `json:"operation" db:"operation"`
	Outcome    string    `json:"outcome" db:"outcome"` // proceed, modify, stop
	Phase      string    `json:"phase" db:"phase"`     // last phase reached: collect, confirm
	Reason     string    `json:"reason,omitempty" db:"reason"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ResolvedAt time.Time `json:"resolved_at" db:"resolved_at"`
}

// ActivityFilter defines query parameters for listing activity records.
type ActivityFilter struct {
	AgentID  string
	Approved *bool
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// SystemStats holds aggregate metrics for the status surface.
type SystemStats struct {
	TotalActivity   int64 `json:"total_activity"`
	DeniedActivity  int64 `json:"denied_activity"`
	TotalViolations int64 `json:"total_violations"`
	OpenViolations  int64 `json:"open_violations"`
	PausedAgents    int64 `json:"paused_agents"`
	StoppedAgents   int64 `json:"stopped_agents"`
	GateRuns        int64 `json:"gate_runs"`
	GateProceeds    int64 `json:"gate_proceeds"`
}
