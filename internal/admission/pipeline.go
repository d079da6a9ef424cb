// Package admission is the entry point agents call before executing an
// operation. Evaluate runs a fixed sequence of checks with short-circuit
// semantics and converts every internal failure into a denial: admission
// control fails closed, it never crashes the caller.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/decision"
	"github.com/agentgate/agentgate/internal/emergency"
	"github.com/agentgate/agentgate/internal/gate"
	"github.com/agentgate/agentgate/internal/ratelimit"
	"github.com/agentgate/agentgate/internal/store"
)

// OperationRequest describes one action an agent wants to perform.
type OperationRequest struct {
	AgentID   string `json:"agent_id"`
	Operation string `json:"operation"`

	// Category overrides the operation-to-category mapping from
	// configuration when set.
	Category string `json:"category,omitempty"`
	// BatchSize is the number of rate-limit events this request
	// represents. Zero means one.
	BatchSize int `json:"batch_size,omitempty"`

	// FileCount and Complexity describe refactor scale; both zero skips
	// the scale check.
	FileCount  int     `json:"file_count,omitempty"`
	Complexity float64 `json:"complexity,omitempty"`

	// Tier and Confidence feed the decision strategy. An empty tier means
	// the caller did not classify the operation and the strategy stage is
	// skipped.
	Tier        decision.Tier `json:"tier,omitempty"`
	Confidence  float64       `json:"confidence,omitempty"`
	RiskFactors []string      `json:"risk_factors,omitempty"`
	Intents     []string      `json:"intents,omitempty"`

	Context map[string]interface{} `json:"context,omitempty"`
}

// Result is the outcome of one Evaluate call.
type Result struct {
	Approved           bool          `json:"approved"`
	BlockingReasons    []string      `json:"blocking_reasons,omitempty"`
	CorrectiveActions  []string      `json:"corrective_actions,omitempty"`
	EmergencyTriggered bool          `json:"emergency_triggered"`
	GateOutcome        *gate.Outcome `json:"gate_outcome,omitempty"`

	DecisionOutcome string                   `json:"decision_outcome,omitempty"`
	Reasoning       string                   `json:"reasoning,omitempty"`
	ExecutionPlan   *decision.ExecutionPlan  `json:"execution_plan,omitempty"`
	MonitoringPlan  *decision.MonitoringPlan `json:"monitoring_plan,omitempty"`

	AdvisoryScores  map[string]float64 `json:"advisory_scores,omitempty"`
	VisionAlignment float64            `json:"vision_alignment,omitempty"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ReadinessChecker reports whether prerequisite project setup is complete
// for an agent. Guidance is shown to the caller on denial.
type ReadinessChecker interface {
	Ready(ctx context.Context, agentID string) (ready bool, guidance string)
}

// AdvisorySignal is a non-binding risk report from an external scorer.
type AdvisorySignal struct {
	// Score is a normalized value in [0,1]; its meaning is scorer-specific.
	Score float64
	// SevereViolations is the scorer's rolling-window severe-violation
	// count, zero when the scorer does not track one.
	SevereViolations int
}

// AdvisoryScorer is an external collaborator consulted after the binding
// checks. Scorers never deny on their own; failures are neutralized.
type AdvisoryScorer interface {
	Name() string
	Score(ctx context.Context, req *OperationRequest) (AdvisorySignal, error)
}

// Pipeline wires the admission stages together.
type Pipeline struct {
	readiness ReadinessChecker
	emergency *emergency.StateStore
	limiter   *ratelimit.Limiter
	rules     *RuleSet
	gate      *gate.Protocol
	strategy  *decision.Strategy
	scorers   []AdvisoryScorer
	store     store.Store
	logger    *slog.Logger

	opCategories map[string]string
}

// NewPipeline assembles a Pipeline. readiness, scorers and store may be
// nil or empty; the corresponding stages degrade to no-ops.
func NewPipeline(
	cfg *config.Config,
	readiness ReadinessChecker,
	emergencyStore *emergency.StateStore,
	limiter *ratelimit.Limiter,
	rules *RuleSet,
	gateProto *gate.Protocol,
	strategy *decision.Strategy,
	scorers []AdvisoryScorer,
	st store.Store,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		readiness:    readiness,
		emergency:    emergencyStore,
		limiter:      limiter,
		rules:        rules,
		gate:         gateProto,
		strategy:     strategy,
		scorers:      scorers,
		store:        st,
		logger:       logger.With("component", "admission.Pipeline"),
		opCategories: cfg.RateLimit.OperationCategories,
	}
}

// Evaluate runs the admission stages in order and returns the result. The
// attempt is logged to the activity store on every path, including early
// denials. Evaluate never panics and never returns an error: any internal
// failure becomes a denied result.
func (p *Pipeline) Evaluate(ctx context.Context, req *OperationRequest) *Result {
	res := &Result{
		Approved:       true,
		AdvisoryScores: make(map[string]float64),
		EvaluatedAt:    time.Now(),
	}
	defer p.logActivity(req, res)

	stages := []struct {
		name string
		fn   func(context.Context, *OperationRequest, *Result) bool
	}{
		{"readiness", p.stageReadiness},
		{"emergency", p.stageEmergency},
		{"rate_limit", p.stageRateLimit},
		{"gate_rules", p.stageGateRules},
		{"decision", p.stageDecision},
		{"advisory", p.stageAdvisory},
	}
	for _, stage := range stages {
		if !p.runStage(ctx, stage.name, stage.fn, req, res) {
			return res
		}
	}
	return res
}

// runStage executes one stage with panic containment. A panicking stage
// denies the request instead of unwinding into the caller.
func (p *Pipeline) runStage(ctx context.Context, name string, fn func(context.Context, *OperationRequest, *Result) bool, req *OperationRequest, res *Result) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("admission stage panicked",
				"stage", name,
				"agent_id", req.AgentID,
				"operation", req.Operation,
				"panic", r,
			)
			res.Approved = false
			res.BlockingReasons = append(res.BlockingReasons,
				fmt.Sprintf("internal failure in %s check", name))
			cont = false
		}
	}()
	return fn(ctx, req, res)
}

func (p *Pipeline) stageReadiness(ctx context.Context, req *OperationRequest, res *Result) bool {
	if p.readiness == nil {
		return true
	}
	ready, guidance := p.readiness.Ready(ctx, req.AgentID)
	if ready {
		return true
	}
	res.Approved = false
	if guidance == "" {
		guidance = "project setup is not complete"
	}
	res.BlockingReasons = append(res.BlockingReasons, guidance)
	return false
}

func (p *Pipeline) stageEmergency(_ context.Context, req *OperationRequest, res *Result) bool {
	if p.emergency == nil {
		return true
	}
	var reason string
	switch {
	case p.emergency.IsStopped(req.AgentID):
		reason = "agent is stopped by emergency control"
	case p.emergency.IsPaused(req.AgentID):
		reason = "agent is paused by emergency control"
	default:
		return true
	}
	res.Approved = false
	res.EmergencyTriggered = true
	res.BlockingReasons = append(res.BlockingReasons, reason)
	p.emergency.RecordBlock(req.AgentID, req.Operation)
	return false
}

func (p *Pipeline) stageRateLimit(_ context.Context, req *OperationRequest, res *Result) bool {
	if p.limiter == nil {
		return true
	}

	if req.FileCount > 0 || req.Complexity > 0 {
		if ok, v := p.limiter.CheckRefactorScale(req.AgentID, req.FileCount, req.Complexity); !ok {
			p.denyForViolation(res, v)
			return false
		}
	}

	category := req.Category
	if category == "" {
		category = p.opCategories[req.Operation]
	}
	if category == "" {
		return true
	}
	n := req.BatchSize
	if n <= 0 {
		n = 1
	}
	if ok, v := p.limiter.CheckAndRecord(req.AgentID, category, n); !ok {
		p.denyForViolation(res, v)
		return false
	}
	return true
}

func (p *Pipeline) denyForViolation(res *Result, v *store.Violation) {
	res.Approved = false
	// Refactor-scale ceilings are static, not windowed.
	if v.Window > 0 {
		res.BlockingReasons = append(res.BlockingReasons,
			fmt.Sprintf("rate limit exceeded for %s: %d of %d allowed in %s",
				v.Category, v.CurrentCount, v.Threshold, v.Window))
	} else {
		res.BlockingReasons = append(res.BlockingReasons,
			fmt.Sprintf("limit exceeded for %s: %d of %d allowed",
				v.Category, v.CurrentCount, v.Threshold))
	}
	res.CorrectiveActions = append(res.CorrectiveActions,
		fmt.Sprintf("request a human override for violation %s", v.ID))
}

func (p *Pipeline) stageGateRules(ctx context.Context, req *OperationRequest, res *Result) bool {
	if p.rules == nil {
		return true
	}

	var gated *RuleMatch
	for _, match := range p.rules.Evaluate(req) {
		switch match.Effect {
		case EffectDeny:
			res.Approved = false
			msg := match.Message
			if msg == "" {
				msg = fmt.Sprintf("operation blocked by rule %s", match.Name)
			}
			res.BlockingReasons = append(res.BlockingReasons, msg)
		case EffectGate:
			if gated == nil {
				m := match
				gated = &m
			}
		}
	}
	if !res.Approved {
		return false
	}
	if gated == nil {
		return true
	}
	return p.runGate(ctx, req, res, gated.Message)
}

// runGate blocks on a confirmation session and records its outcome.
// Anything other than an explicit proceed is a denial.
func (p *Pipeline) runGate(ctx context.Context, req *OperationRequest, res *Result, why string) bool {
	if p.gate == nil {
		res.Approved = false
		res.BlockingReasons = append(res.BlockingReasons,
			"operation requires human confirmation but no gate is configured")
		return false
	}

	if why == "" {
		why = "this operation requires human confirmation"
	}
	outcome, err := p.gate.Run(ctx, gate.Prompt{
		AgentID:   req.AgentID,
		Operation: req.Operation,
		Title:     fmt.Sprintf("Confirm %s for %s", req.Operation, req.AgentID),
		Context:   why,
		Questions: []string{fmt.Sprintf("Allow %s to run %q?", req.AgentID, req.Operation)},
	})
	res.GateOutcome = &outcome
	if err != nil {
		res.Approved = false
		res.BlockingReasons = append(res.BlockingReasons, err.Error())
		return false
	}
	if outcome.Decision != gate.DecisionProceed {
		res.Approved = false
		reason := outcome.Reason
		if reason == "" {
			reason = fmt.Sprintf("gate resolved %q", outcome.Decision)
		}
		res.BlockingReasons = append(res.BlockingReasons, reason)
		return false
	}
	return true
}

func (p *Pipeline) stageDecision(ctx context.Context, req *OperationRequest, res *Result) bool {
	if p.strategy == nil || req.Tier == "" {
		return true
	}

	dres := p.strategy.Decide(decision.Context{
		Tier:        req.Tier,
		Confidence:  req.Confidence,
		RiskFactors: req.RiskFactors,
		Intents:     req.Intents,
	})
	res.DecisionOutcome = dres.Outcome.String()
	res.Reasoning = dres.Reasoning

	switch {
	case dres.Outcome.Autonomous():
		res.ExecutionPlan = dres.ExecutionPlan
		res.MonitoringPlan = dres.MonitoringPlan
		return true
	case dres.Outcome.NeedsConfirmation():
		// A gate that already resolved proceed for this request covers the
		// confirmation demand.
		if res.GateOutcome != nil && res.GateOutcome.Decision == gate.DecisionProceed {
			return true
		}
		return p.runGate(ctx, req, res, dres.Reasoning)
	default:
		res.Approved = false
		res.BlockingReasons = append(res.BlockingReasons, dres.Reasoning)
		return false
	}
}

// stageAdvisory consults the external scorers. They never deny: errors and
// panics are logged and treated as no signal.
func (p *Pipeline) stageAdvisory(ctx context.Context, req *OperationRequest, res *Result) bool {
	for _, scorer := range p.scorers {
		signal, err := p.scoreOne(ctx, scorer, req)
		if err != nil {
			p.logger.Warn("advisory scorer failed",
				"scorer", scorer.Name(),
				"agent_id", req.AgentID,
				"error", err,
			)
			continue
		}
		res.AdvisoryScores[scorer.Name()] = signal.Score
		if strings.Contains(scorer.Name(), "vision") {
			res.VisionAlignment = signal.Score
		}
		if signal.SevereViolations > 0 && p.emergency != nil {
			p.emergency.OnAdvisorySignal(req.AgentID, signal.SevereViolations)
		}
	}
	return true
}

func (p *Pipeline) scoreOne(ctx context.Context, scorer AdvisoryScorer, req *OperationRequest) (signal AdvisorySignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scorer panicked: %v", r)
		}
	}()
	return scorer.Score(ctx, req)
}

// logActivity writes the attempt to the audit trail. It runs on every
// Evaluate exit path and never affects the result.
func (p *Pipeline) logActivity(req *OperationRequest, res *Result) {
	if p.store == nil {
		return
	}
	err := p.store.InsertActivity(&store.Activity{
		ID:        ulid.Make().String(),
		AgentID:   req.AgentID,
		Operation: req.Operation,
		Approved:  res.Approved,
		Reasons:   res.BlockingReasons,
		Emergency: res.EmergencyTriggered,
		Timestamp: res.EvaluatedAt,
	})
	if err != nil {
		p.logger.Error("failed to record activity",
			"agent_id", req.AgentID,
			"operation", req.Operation,
			"error", err,
		)
	}
}
