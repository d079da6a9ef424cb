// Package ratelimit implements per-agent sliding-window rate limiting for
// operation categories. Each (agent, category) pair maintains an independent
// window of event timestamps; stale entries are purged before every check so
// the window never holds events older than the category's configured
// duration. Breaches produce durable violations that only an explicit human
// override can resolve.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/store"
)

// window holds the event timestamps for one (agent, category) pair. Each
// window has its own lock so concurrent checks for different agents never
// contend on each other.
type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter provides thread-safe sliding-window rate limiting. Windows are
// created lazily per (agent, category) and bounded by purging; they are
// never explicitly destroyed.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window // "agentID|category"

	categories map[string]config.CategoryConfig
	refactor   config.RefactorScaleConfig
	store      store.Store
	logger     *slog.Logger
}

// NewLimiter creates a Limiter from the rate-limit configuration. The store
// is used to persist violations and may be nil in tests.
func NewLimiter(cfg config.RateLimitConfig, st store.Store, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}

	categories := make(map[string]config.CategoryConfig, len(cfg.Categories))
	for _, c := range cfg.Categories {
		categories[c.Name] = c
	}

	return &Limiter{
		windows:    make(map[string]*window),
		categories: categories,
		refactor:   cfg.Refactor,
		store:      st,
		logger:     logger.With("component", "ratelimit.Limiter"),
	}
}

// CheckAndRecord checks whether n more events fit inside the category's
// window for the given agent. If they do, the events are recorded and the
// call returns (true, nil). If they would exceed the threshold, nothing is
// recorded and a violation is constructed, persisted, and returned.
//
// An unknown category is a configuration gap, not a denial: the call is
// allowed and a warning is logged.
func (l *Limiter) CheckAndRecord(agentID, category string, n int) (bool, *store.Violation) {
	if n <= 0 {
		n = 1
	}

	cfg, ok := l.categories[category]
	if !ok {
		l.logger.Warn("unknown rate-limit category, allowing",
			"category", category,
			"agent_id", agentID,
		)
		return true, nil
	}

	w := l.getWindow(agentID, category)
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.timestamps = purge(w.timestamps, now.Add(-cfg.Window))

	if len(w.timestamps)+n > cfg.Threshold {
		v := l.newViolation(agentID, cfg, len(w.timestamps)+n, now)
		l.persistViolation(v)
		l.logger.Warn("rate limit exceeded",
			"agent_id", agentID,
			"category", category,
			"current_count", v.CurrentCount,
			"threshold", cfg.Threshold,
			"violation_id", v.ID,
		)
		return false, v
	}

	for i := 0; i < n; i++ {
		w.timestamps = append(w.timestamps, now)
	}
	return true, nil
}

// CheckRefactorScale evaluates a refactor request against the static
// file-count and complexity ceilings. Unlike the windowed categories this is
// a per-request check; nothing is recorded on success.
func (l *Limiter) CheckRefactorScale(agentID string, fileCount int, complexity float64) (bool, *store.Violation) {
	if fileCount <= l.refactor.MaxFiles && complexity <= l.refactor.MaxComplexity {
		return true, nil
	}

	v := &store.Violation{
		ID:           ulid.Make().String(),
		AgentID:      agentID,
		Category:     "refactor_scale",
		Severity:     "critical",
		CurrentCount: fileCount,
		Threshold:    l.refactor.MaxFiles,
		Timestamp:    time.Now(),
	}
	l.persistViolation(v)
	l.logger.Warn("refactor scale ceiling exceeded",
		"agent_id", agentID,
		"file_count", fileCount,
		"max_files", l.refactor.MaxFiles,
		"complexity", complexity,
		"max_complexity", l.refactor.MaxComplexity,
		"violation_id", v.ID,
	)
	return false, v
}

// GrantOverride marks a violation as resolved with an override. The
// underlying window is deliberately left intact: an override forgives the
// violation record, it does not grant fresh quota.
func (l *Limiter) GrantOverride(violationID, grantedBy string) bool {
	if l.store == nil {
		return false
	}
	if err := l.store.ResolveViolation(violationID, grantedBy); err != nil {
		l.logger.Error("failed to grant override",
			"violation_id", violationID,
			"granted_by", grantedBy,
			"error", err,
		)
		return false
	}
	l.logger.Info("override granted",
		"violation_id", violationID,
		"granted_by", grantedBy,
	)
	return true
}

// Count returns the number of in-window events for the given agent and
// category, purging stale entries first.
func (l *Limiter) Count(agentID, category string) int {
	cfg, ok := l.categories[category]
	if !ok {
		return 0
	}

	l.mu.RLock()
	w, ok := l.windows[agentID+"|"+category]
	l.mu.RUnlock()
	if !ok {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.timestamps = purge(w.timestamps, time.Now().Add(-cfg.Window))
	return len(w.timestamps)
}

// Reset removes all tracked windows for an agent.
func (l *Limiter) Reset(agentID string) {
	l.mu.Lock()
	for key := range l.windows {
		if len(key) > len(agentID) && key[:len(agentID)+1] == agentID+"|" {
			delete(l.windows, key)
		}
	}
	l.mu.Unlock()

	l.logger.Debug("reset rate limit windows", "agent_id", agentID)
}

func (l *Limiter) getWindow(agentID, category string) *window {
	key := agentID + "|" + category

	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.windows[key]; ok {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}

func (l *Limiter) newViolation(agentID string, cfg config.CategoryConfig, count int, now time.Time) *store.Violation {
	severity := cfg.Severity
	if severity == "" {
		severity = "warning"
	}
	return &store.Violation{
		ID:           ulid.Make().String(),
		AgentID:      agentID,
		Category:     cfg.Name,
		Severity:     severity,
		CurrentCount: count,
		Threshold:    cfg.Threshold,
		Window:       cfg.Window,
		Timestamp:    now,
	}
}

func (l *Limiter) persistViolation(v *store.Violation) {
	if l.store == nil {
		return
	}
	if err := l.store.InsertViolation(v); err != nil {
		l.logger.Error("failed to persist violation",
			"violation_id", v.ID,
			"error", err,
		)
	}
}

// purge drops timestamps at or before the cutoff. Timestamps are appended in
// order, so the first in-window entry bounds the valid suffix.
func purge(timestamps []time.Time, cutoff time.Time) []time.Time {
	firstValid := len(timestamps)
	for i, ts := range timestamps {
		if ts.After(cutoff) {
			firstValid = i
			break
		}
	}
	return timestamps[firstValid:]
}
