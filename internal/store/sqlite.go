package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activity (
		id              TEXT PRIMARY KEY,
		agent_id        TEXT NOT NULL,
		operation       TEXT NOT NULL,
		approved        INTEGER NOT NULL,
		reasons         TEXT,
		emergency       INTEGER DEFAULT 0,
		timestamp       DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS violations (
		id               TEXT PRIMARY KEY,
		agent_id         TEXT NOT NULL,
		category         TEXT NOT NULL,
		severity         TEXT NOT NULL,
		current_count    INTEGER NOT NULL,
		threshold        INTEGER NOT NULL,
		window_ns        INTEGER NOT NULL,
		timestamp        DATETIME NOT NULL,
		resolved         INTEGER DEFAULT 0,
		override_granted INTEGER DEFAULT 0,
		granted_by       TEXT,
		resolved_at      DATETIME
	);

	CREATE TABLE IF NOT EXISTS emergency_states (
		agent_id        TEXT PRIMARY KEY,
		is_paused       INTEGER NOT NULL,
		is_stopped      INTEGER NOT NULL,
		paused_at       DATETIME,
		stopped_at      DATETIME,
		updated_at      DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS emergency_events (
		id              TEXT PRIMARY KEY,
		agent_id        TEXT NOT NULL,
		action          TEXT NOT NULL,
		severity        TEXT NOT NULL,
		initiated_by    TEXT NOT NULL,
		reason          TEXT,
		timestamp       DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS gate_audits (
		id              TEXT PRIMARY KEY,
		agent_id        TEXT NOT NULL,
		operation       TEXT NOT NULL,
		outcome         TEXT NOT NULL,
		phase           TEXT NOT NULL,
		reason          TEXT,
		created_at      DATETIME NOT NULL,
		resolved_at     DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_agent ON activity(agent_id);
	CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity(timestamp);
	CREATE INDEX IF NOT EXISTS idx_violations_agent ON violations(agent_id);
	CREATE INDEX IF NOT EXISTS idx_violations_resolved ON violations(resolved);
	CREATE INDEX IF NOT EXISTS idx_emergency_events_agent ON emergency_events(agent_id);
	CREATE INDEX IF NOT EXISTS idx_gate_audits_agent ON gate_audits(agent_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Activity ---

func (s *SQLiteStore) InsertActivity(a *Activity) error {
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO activity (id, agent_id, operation, approved, reasons, emergency, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentID, a.Operation, a.Approved, string(reasons), a.Emergency, a.Timestamp,
	)
	return err
}

func (s *SQLiteStore) ListActivity(filter ActivityFilter) ([]*Activity, error) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if filter.AgentID != "" {
		where += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Approved != nil {
		where += " AND approved = ?"
		args = append(args, *filter.Approved)
	}
	if filter.Since != nil {
		where += " AND timestamp >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		where += " AND timestamp <= ?"
		args = append(args, *filter.Until)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT id, agent_id, operation, approved, reasons, emergency, timestamp FROM activity" +
		where + " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Activity
	for rows.Next() {
		a := &Activity{}
		var reasons sql.NullString
		if err := rows.Scan(&a.ID, &a.AgentID, &a.Operation, &a.Approved,
			&reasons, &a.Emergency, &a.Timestamp); err != nil {
			return nil, err
		}
		if reasons.Valid && reasons.String != "" {
			_ = json.Unmarshal([]byte(reasons.String), &a.Reasons)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}

// --- Violations ---

func (s *SQLiteStore) InsertViolation(v *Violation) error {
	_, err := s.db.Exec(`INSERT INTO violations (id, agent_id, category, severity, current_count,
		threshold, window_ns, timestamp, resolved, override_granted, granted_by, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.AgentID, v.Category, v.Severity, v.CurrentCount,
		v.Threshold, v.Window.Nanoseconds(), v.Timestamp, v.Resolved,
		v.OverrideGranted, nullStr(v.GrantedBy), v.ResolvedAt,
	)
	return err
}

func (s *SQLiteStore) GetViolation(id string) (*Violation, error) {
	v := &Violation{}
	var windowNs int64
	var grantedBy sql.NullString
	var resolvedAt sql.NullTime

	err := s.db.QueryRow(`SELECT id, agent_id, category, severity, current_count, threshold,
		window_ns, timestamp, resolved, override_granted, granted_by, resolved_at
		FROM violations WHERE id = ?`, id).Scan(
		&v.ID, &v.AgentID, &v.Category, &v.Severity, &v.CurrentCount, &v.Threshold,
		&windowNs, &v.Timestamp, &v.Resolved, &v.OverrideGranted, &grantedBy, &resolvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	v.Window = time.Duration(windowNs)
	v.GrantedBy = grantedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		v.ResolvedAt = &t
	}
	return v, nil
}

func (s *SQLiteStore) ResolveViolation(id, grantedBy string) error {
	res, err := s.db.Exec(`UPDATE violations SET resolved = 1, override_granted = 1,
		granted_by = ?, resolved_at = ? WHERE id = ?`,
		grantedBy, time.Now(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("violation %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) ListViolations(agentID string, limit int) ([]*Violation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, agent_id, category, severity, current_count, threshold,
		window_ns, timestamp, resolved, override_granted, granted_by, resolved_at
		FROM violations`
	args := []interface{}{}
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []*Violation
	for rows.Next() {
		v := &Violation{}
		var windowNs int64
		var grantedBy sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&v.ID, &v.AgentID, &v.Category, &v.Severity, &v.CurrentCount,
			&v.Threshold, &windowNs, &v.Timestamp, &v.Resolved, &v.OverrideGranted,
			&grantedBy, &resolvedAt); err != nil {
			return nil, err
		}
		v.Window = time.Duration(windowNs)
		v.GrantedBy = grantedBy.String
		if resolvedAt.Valid {
			t := resolvedAt.Time
			v.ResolvedAt = &t
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// --- Emergency state ---

func (s *SQLiteStore) UpsertEmergencyState(st *EmergencyState) error {
	_, err := s.db.Exec(`INSERT INTO emergency_states (agent_id, is_paused, is_stopped, paused_at, stopped_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			is_paused = excluded.is_paused,
			is_stopped = excluded.is_stopped,
			paused_at = excluded.paused_at,
			stopped_at = excluded.stopped_at,
			updated_at = excluded.updated_at`,
		st.AgentID, st.IsPaused, st.IsStopped, st.PausedAt, st.StoppedAt, st.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) ListEmergencyStates() ([]*EmergencyState, error) {
	rows, err := s.db.Query(`SELECT agent_id, is_paused, is_stopped, paused_at, stopped_at, updated_at
		FROM emergency_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*EmergencyState
	for rows.Next() {
		st := &EmergencyState{}
		var pausedAt, stoppedAt sql.NullTime
		if err := rows.Scan(&st.AgentID, &st.IsPaused, &st.IsStopped,
			&pausedAt, &stoppedAt, &st.UpdatedAt); err != nil {
			return nil, err
		}
		if pausedAt.Valid {
			t := pausedAt.Time
			st.PausedAt = &t
		}
		if stoppedAt.Valid {
			t := stoppedAt.Time
			st.StoppedAt = &t
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func (s *SQLiteStore) InsertEmergencyEvent(e *EmergencyEvent) error {
	_, err := s.db.Exec(`INSERT INTO emergency_events (id, agent_id, action, severity, initiated_by, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AgentID, e.Action, e.Severity, e.InitiatedBy, nullStr(e.Reason), e.Timestamp,
	)
	return err
}

func (s *SQLiteStore) ListEmergencyEvents(agentID string, limit int) ([]*EmergencyEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, agent_id, action, severity, initiated_by, reason, timestamp FROM emergency_events`
	args := []interface{}{}
	if agentID != "" {
		query += " WHERE agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*EmergencyEvent
	for rows.Next() {
		e := &EmergencyEvent{}
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Action, &e.Severity,
			&e.InitiatedBy, &reason, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Reason = reason.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Gate audit ---

func (s *SQLiteStore) InsertGateAudit(g *GateAudit) error {
	_, err := s.db.Exec(`INSERT INTO gate_audits (id, agent_id, operation, outcome, phase, reason, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.AgentID, g.Operation, g.Outcome, g.Phase, nullStr(g.Reason), g.CreatedAt, g.ResolvedAt,
	)
	return err
}

func (s *SQLiteStore) ListGateAudits(limit int) ([]*GateAudit, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`SELECT id, agent_id, operation, outcome, phase, reason, created_at, resolved_at
		FROM gate_audits ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []*GateAudit
	for rows.Next() {
		g := &GateAudit{}
		var reason sql.NullString
		if err := rows.Scan(&g.ID, &g.AgentID, &g.Operation, &g.Outcome,
			&g.Phase, &reason, &g.CreatedAt, &g.ResolvedAt); err != nil {
			return nil, err
		}
		g.Reason = reason.String
		audits = append(audits, g)
	}
	return audits, rows.Err()
}

// --- Maintenance ---

// PruneOlderThan deletes activity, emergency events, and gate audits older
// than the given number of days. Violations and emergency states are kept:
// violations are audit records with explicit resolution, and emergency
// states must survive until explicitly cleared.
func (s *SQLiteStore) PruneOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	var total int64
	for _, q := range []string{
		"DELETE FROM activity WHERE timestamp < ?",
		"DELETE FROM emergency_events WHERE timestamp < ?",
		"DELETE FROM gate_audits WHERE created_at < ?",
	} {
		res, err := s.db.Exec(q, cutoff)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *SQLiteStore) GetSystemStats() (*SystemStats, error) {
	stats := &SystemStats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM activity", &stats.TotalActivity},
		{"SELECT COUNT(*) FROM activity WHERE approved = 0", &stats.DeniedActivity},
		{"SELECT COUNT(*) FROM violations", &stats.TotalViolations},
		{"SELECT COUNT(*) FROM violations WHERE resolved = 0", &stats.OpenViolations},
		{"SELECT COUNT(*) FROM emergency_states WHERE is_paused = 1 AND is_stopped = 0", &stats.PausedAgents},
		{"SELECT COUNT(*) FROM emergency_states WHERE is_stopped = 1", &stats.StoppedAgents},
		{"SELECT COUNT(*) FROM gate_audits", &stats.GateRuns},
		{"SELECT COUNT(*) FROM gate_audits WHERE outcome = 'proceed'", &stats.GateProceeds},
	}

	for _, q := range queries {
		if err := s.db.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
