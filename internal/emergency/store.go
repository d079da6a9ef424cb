// Package emergency implements the per-agent pause/stop control that is
// checked before any other admission stage. State lives outside the agent's
// own context and survives process restart, so a paused or stopped agent
// stays that way no matter what the agent itself does. A background sweep
// auto-resumes pauses that outlive their maximum duration; stops are
// terminal until an explicit, externally authorized restart.
package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentgate/agentgate/internal/alert"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/store"
)

// Emergency event actions.
const (
	ActionPause  = "pause"
	ActionStop   = "stop"
	ActionResume = "resume"
	ActionBlock  = "block"
)

// Terminator is the best-effort process-termination collaborator invoked on
// Stop. Failures are logged and swallowed, never propagated.
type Terminator interface {
	Terminate(agentID string) error
}

// agentState holds the in-memory state for one agent. Fields are only
// accessed while holding the StateStore's lock.
type agentState struct {
	paused    bool
	stopped   bool
	pausedAt  time.Time
	stoppedAt time.Time
	events    []store.EmergencyEvent
	advisory  []time.Time
}

// StateStore tracks per-agent emergency state. States are created lazily on
// first pause/stop and never deleted; unknown agents report not paused and
// not stopped.
type StateStore struct {
	mu     sync.RWMutex
	agents map[string]*agentState

	cfg        config.EmergencyConfig
	store      store.Store
	terminator Terminator
	alerts     *alert.Manager
	logger     *slog.Logger

	sweepCancel context.CancelFunc
}

// NewStateStore creates a StateStore and loads persisted states so that
// pauses and stops survive restart. The store, terminator, and alert
// manager may each be nil.
func NewStateStore(cfg config.EmergencyConfig, st store.Store, term Terminator, alerts *alert.Manager, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}

	s := &StateStore{
		agents:     make(map[string]*agentState),
		cfg:        cfg,
		store:      st,
		terminator: term,
		alerts:     alerts,
		logger:     logger.With("component", "emergency.StateStore"),
	}
	s.loadPersisted()
	return s
}

func (s *StateStore) loadPersisted() {
	if s.store == nil {
		return
	}
	states, err := s.store.ListEmergencyStates()
	if err != nil {
		s.logger.Error("failed to load persisted emergency states", "error", err)
		return
	}
	for _, st := range states {
		as := &agentState{paused: st.IsPaused, stopped: st.IsStopped}
		if st.PausedAt != nil {
			as.pausedAt = *st.PausedAt
		}
		if st.StoppedAt != nil {
			as.stoppedAt = *st.StoppedAt
		}
		s.agents[st.AgentID] = as
	}
	if len(states) > 0 {
		s.logger.Info("restored emergency states", "count", len(states))
	}
}

// Pause pauses an agent. Returns false without effect if the agent is
// already paused or has been stopped.
func (s *StateStore) Pause(agentID, reason, initiator string) bool {
	s.mu.Lock()
	as := s.getOrCreateLocked(agentID)
	if as.paused || as.stopped {
		s.mu.Unlock()
		return false
	}
	as.paused = true
	as.pausedAt = time.Now()
	s.appendEventLocked(agentID, as, ActionPause, "warning", initiator, reason)
	s.persistLocked(agentID, as)
	s.mu.Unlock()

	s.logger.Warn("agent paused",
		"agent_id", agentID,
		"reason", reason,
		"initiated_by", initiator,
	)
	s.sendAlert("emergency_pause", "warning", agentID,
		fmt.Sprintf("Agent %s paused: %s", agentID, reason))
	return true
}

// Stop stops an agent. Always succeeds; a stop over an existing pause or
// stop simply records the new event. The terminate collaborator is invoked
// best-effort.
func (s *StateStore) Stop(agentID, reason, initiator string) bool {
	s.mu.Lock()
	as := s.getOrCreateLocked(agentID)
	as.stopped = true
	as.stoppedAt = time.Now()
	s.appendEventLocked(agentID, as, ActionStop, "critical", initiator, reason)
	s.persistLocked(agentID, as)
	s.mu.Unlock()

	s.logger.Error("agent stopped",
		"agent_id", agentID,
		"reason", reason,
		"initiated_by", initiator,
	)

	if s.terminator != nil {
		if err := s.terminator.Terminate(agentID); err != nil {
			s.logger.Error("terminate collaborator failed, continuing",
				"agent_id", agentID,
				"error", err,
			)
		}
	}

	s.sendAlert("emergency_stop", "critical", agentID,
		fmt.Sprintf("Agent %s stopped: %s", agentID, reason))
	return true
}

// Resume clears a pause. Returns false if the agent is not currently
// paused. Resume never clears a stop.
func (s *StateStore) Resume(agentID, initiator string) bool {
	return s.resume(agentID, initiator, "resumed")
}

func (s *StateStore) resume(agentID, initiator, reason string) bool {
	s.mu.Lock()
	as, ok := s.agents[agentID]
	if !ok || !as.paused {
		s.mu.Unlock()
		return false
	}
	as.paused = false
	as.pausedAt = time.Time{}
	s.appendEventLocked(agentID, as, ActionResume, "info", initiator, reason)
	s.persistLocked(agentID, as)
	s.mu.Unlock()

	s.logger.Info("agent resumed",
		"agent_id", agentID,
		"initiated_by", initiator,
		"reason", reason,
	)
	return true
}

// Restart clears a stop (and any pause). This is the out-of-band manual
// reset: it is exposed to operators only, never to the admission path, and
// it is the sole way a stopped agent becomes active again.
func (s *StateStore) Restart(agentID, initiator string) bool {
	s.mu.Lock()
	as, ok := s.agents[agentID]
	if !ok || !as.stopped {
		s.mu.Unlock()
		return false
	}
	as.stopped = false
	as.paused = false
	as.stoppedAt = time.Time{}
	as.pausedAt = time.Time{}
	s.appendEventLocked(agentID, as, ActionResume, "warning", initiator, "stop cleared by manual restart")
	s.persistLocked(agentID, as)
	s.mu.Unlock()

	s.logger.Warn("agent restarted after stop",
		"agent_id", agentID,
		"initiated_by", initiator,
	)
	return true
}

// IsPaused reports whether the agent is paused. Unknown agents are not.
func (s *StateStore) IsPaused(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	as, ok := s.agents[agentID]
	return ok && as.paused
}

// IsStopped reports whether the agent is stopped. Unknown agents are not.
func (s *StateStore) IsStopped(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	as, ok := s.agents[agentID]
	return ok && as.stopped
}

// RecordBlock appends a block event to an agent's history. Called by the
// admission pipeline when it denies a request because of pause/stop state.
func (s *StateStore) RecordBlock(agentID, reason string) {
	s.mu.Lock()
	as := s.getOrCreateLocked(agentID)
	s.appendEventLocked(agentID, as, ActionBlock, "warning", "system", reason)
	s.mu.Unlock()
}

// Events returns a copy of the agent's in-memory event history.
func (s *StateStore) Events(agentID string) []store.EmergencyEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	as, ok := s.agents[agentID]
	if !ok {
		return nil
	}
	out := make([]store.EmergencyEvent, len(as.events))
	copy(out, as.events)
	return out
}

// OnAdvisorySignal is the one-way coupling point from external chaos and
// vision-drift scorers. Severe violations accumulate in a per-agent rolling
// window; when the total inside the window reaches the configured threshold,
// the agent is paused with initiated_by="system". The signal never resumes
// or stops.
func (s *StateStore) OnAdvisorySignal(agentID string, severeViolationCount int) {
	if s.cfg.AutoPauseThreshold <= 0 || severeViolationCount <= 0 {
		return
	}
	window := s.cfg.AutoPauseWindow
	if window <= 0 {
		window = time.Hour
	}
	now := time.Now()
	cutoff := now.Add(-window)

	s.mu.Lock()
	as := s.getOrCreateLocked(agentID)
	kept := as.advisory[:0]
	for _, ts := range as.advisory {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	for i := 0; i < severeViolationCount; i++ {
		kept = append(kept, now)
	}
	as.advisory = kept
	total := len(kept)
	s.mu.Unlock()

	if total < s.cfg.AutoPauseThreshold {
		return
	}
	s.Pause(agentID,
		fmt.Sprintf("%d severe violations within %s", total, window),
		"system",
	)
}

// Start launches the background sweep that auto-resumes over-age pauses.
// The sweep stops when ctx is cancelled or Stop is called.
func (s *StateStore) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.sweepCancel = cancel
	s.mu.Unlock()

	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// StopSweep cancels the background sweep, if running.
func (s *StateStore) StopSweep() {
	s.mu.Lock()
	cancel := s.sweepCancel
	s.sweepCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// sweep auto-resumes every paused agent whose pause has outlived
// max_pause_duration. Stopped agents are never touched.
func (s *StateStore) sweep() {
	if s.cfg.MaxPauseDuration <= 0 {
		return
	}

	now := time.Now()

	s.mu.RLock()
	var expired []string
	for agentID, as := range s.agents {
		if as.paused && !as.stopped && now.Sub(as.pausedAt) > s.cfg.MaxPauseDuration {
			expired = append(expired, agentID)
		}
	}
	s.mu.RUnlock()

	for _, agentID := range expired {
		if s.resume(agentID, "system", "pause exceeded max duration") {
			s.sendAlert("auto_resume", "info", agentID,
				fmt.Sprintf("Agent %s auto-resumed after %s pause", agentID, s.cfg.MaxPauseDuration))
		}
	}
}

func (s *StateStore) getOrCreateLocked(agentID string) *agentState {
	as, ok := s.agents[agentID]
	if !ok {
		as = &agentState{}
		s.agents[agentID] = as
	}
	return as
}

// appendEventLocked records an event in memory and persists it. Must be
// called while s.mu is held.
func (s *StateStore) appendEventLocked(agentID string, as *agentState, action, severity, initiator, reason string) {
	event := store.EmergencyEvent{
		ID:          ulid.Make().String(),
		AgentID:     agentID,
		Action:      action,
		Severity:    severity,
		InitiatedBy: initiator,
		Reason:      reason,
		Timestamp:   time.Now(),
	}
	as.events = append(as.events, event)

	if s.store != nil {
		if err := s.store.InsertEmergencyEvent(&event); err != nil {
			s.logger.Error("failed to persist emergency event",
				"agent_id", agentID,
				"action", action,
				"error", err,
			)
		}
	}
}

// persistLocked upserts the agent's durable state row. Must be called while
// s.mu is held.
func (s *StateStore) persistLocked(agentID string, as *agentState) {
	if s.store == nil {
		return
	}

	rec := &store.EmergencyState{
		AgentID:   agentID,
		IsPaused:  as.paused,
		IsStopped: as.stopped,
		UpdatedAt: time.Now(),
	}
	if !as.pausedAt.IsZero() {
		t := as.pausedAt
		rec.PausedAt = &t
	}
	if !as.stoppedAt.IsZero() {
		t := as.stoppedAt
		rec.StoppedAt = &t
	}

	if err := s.store.UpsertEmergencyState(rec); err != nil {
		s.logger.Error("failed to persist emergency state",
			"agent_id", agentID,
			"error", err,
		)
	}
}

func (s *StateStore) sendAlert(alertType, severity, agentID, message string) {
	if s.alerts == nil {
		return
	}
	s.alerts.Send(alert.Alert{
		Type:     alertType,
		Severity: severity,
		Title:    alertType,
		Message:  message,
		AgentID:  agentID,
	})
}
