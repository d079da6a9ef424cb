// Package decision maps an operation's complexity tier and the agent's
// stated confidence to an admission outcome. The mapping is a pure
// function of its inputs: no state, no side effects beyond logging.
package decision

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentgate/agentgate/internal/config"
)

// Tier is a coarse risk classification for a requested operation.
type Tier string

const (
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
	TierCritical Tier = "critical"
)

// Outcome is what the strategy recommends for a request. Values are
// ordered from most to least restrictive so that, for a fixed tier, the
// outcome is non-decreasing in confidence.
type Outcome int

const (
	OutcomeReject Outcome = iota
	OutcomeEscalate
	OutcomeRequestClarification
	OutcomeRequestConfirmation
	OutcomeProceedWithMonitoring
	OutcomeProceed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReject:
		return "reject"
	case OutcomeEscalate:
		return "escalate"
	case OutcomeRequestClarification:
		return "request_clarification"
	case OutcomeRequestConfirmation:
		return "request_confirmation"
	case OutcomeProceedWithMonitoring:
		return "proceed_with_monitoring"
	case OutcomeProceed:
		return "proceed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Autonomous reports whether the outcome lets the operation run without
// further human involvement.
func (o Outcome) Autonomous() bool {
	return o == OutcomeProceed || o == OutcomeProceedWithMonitoring
}

// NeedsConfirmation reports whether the outcome routes through the gate.
func (o Outcome) NeedsConfirmation() bool {
	return o == OutcomeRequestConfirmation
}

// Context carries the per-request inputs to Decide. It is built by the
// caller and never persisted.
type Context struct {
	Tier        Tier
	Confidence  float64
	RiskFactors []string

	// Intents are the caller's resolved intents, in execution order.
	// They seed the execution plan for autonomous outcomes.
	Intents []string
}

// ExecutionStep is one command in an execution plan with the checkpoint
// to roll back to if it fails.
type ExecutionStep struct {
	Command    string `json:"command"`
	Checkpoint string `json:"checkpoint"`
}

// ExecutionPlan is the ordered, deduplicated command list for an
// autonomous outcome.
type ExecutionPlan struct {
	Steps []ExecutionStep `json:"steps"`
}

// MonitoringPlan accompanies OutcomeProceedWithMonitoring.
type MonitoringPlan struct {
	SafetyChecks     []string `json:"safety_checks"`
	RollbackTriggers []string `json:"rollback_triggers"`
}

// Result is the full output of one Decide call.
type Result struct {
	Outcome        Outcome
	Reasoning      string
	ExecutionPlan  *ExecutionPlan
	MonitoringPlan *MonitoringPlan
}

// Lower bounds of the confirmation and clarification bands. Unlike the
// per-tier upper thresholds these are not tunable.
const (
	simpleClarifyBelow   = 0.4
	moderateClarifyBelow = 0.5
	complexEscalateBelow = 0.6
)

// Strategy applies the tiered confidence thresholds from configuration.
type Strategy struct {
	cfg    config.DecisionConfig
	logger *slog.Logger
}

func NewStrategy(cfg config.DecisionConfig, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{
		cfg:    cfg,
		logger: logger.With("component", "decision.Strategy"),
	}
}

// Decide maps the context to an outcome. An unknown tier is treated as
// critical: misclassification must not grant autonomy.
func (s *Strategy) Decide(ctx Context) Result {
	tier := ctx.Tier
	switch tier {
	case TierSimple, TierModerate, TierComplex, TierCritical:
	default:
		s.logger.Warn("unknown complexity tier, treating as critical", "tier", string(tier))
		tier = TierCritical
	}

	conf := ctx.Confidence
	var res Result

	switch tier {
	case TierSimple:
		switch {
		case conf >= s.cfg.SimpleThreshold:
			res.Outcome = OutcomeProceed
			res.Reasoning = fmt.Sprintf("simple operation with confidence %.2f at or above %.2f", conf, s.cfg.SimpleThreshold)
		case conf >= simpleClarifyBelow:
			res.Outcome = OutcomeRequestConfirmation
			res.Reasoning = fmt.Sprintf("simple operation but confidence %.2f is below %.2f", conf, s.cfg.SimpleThreshold)
		default:
			res.Outcome = OutcomeRequestClarification
			res.Reasoning = fmt.Sprintf("confidence %.2f too low to act on a simple operation", conf)
		}
	case TierModerate:
		switch {
		case conf >= s.cfg.ModerateThreshold:
			res.Outcome = OutcomeProceedWithMonitoring
			res.Reasoning = fmt.Sprintf("moderate operation with confidence %.2f at or above %.2f, monitored execution", conf, s.cfg.ModerateThreshold)
		case conf >= moderateClarifyBelow:
			res.Outcome = OutcomeRequestConfirmation
			res.Reasoning = fmt.Sprintf("moderate operation but confidence %.2f is below %.2f", conf, s.cfg.ModerateThreshold)
		default:
			res.Outcome = OutcomeRequestClarification
			res.Reasoning = fmt.Sprintf("confidence %.2f too low to act on a moderate operation", conf)
		}
	case TierComplex:
		// Complex operations never silent-proceed, even at full confidence.
		switch {
		case conf >= s.cfg.ComplexThreshold:
			res.Outcome = OutcomeRequestConfirmation
			res.Reasoning = fmt.Sprintf("complex operation requires confirmation regardless of confidence %.2f", conf)
		case conf >= complexEscalateBelow:
			res.Outcome = OutcomeRequestClarification
			res.Reasoning = fmt.Sprintf("complex operation with confidence %.2f below %.2f needs clarification", conf, s.cfg.ComplexThreshold)
		default:
			res.Outcome = OutcomeEscalate
			res.Reasoning = fmt.Sprintf("complex operation with confidence %.2f requires human review", conf)
		}
	case TierCritical:
		res.Outcome = OutcomeEscalate
		res.Reasoning = "critical operations always escalate to a human"
	}

	if len(ctx.RiskFactors) > 0 {
		res.Reasoning += "; risk factors: " + strings.Join(ctx.RiskFactors, ", ")
	}
	if res.Outcome.Autonomous() {
		res.ExecutionPlan = buildExecutionPlan(ctx.Intents)
	}
	if res.Outcome == OutcomeProceedWithMonitoring {
		res.MonitoringPlan = buildMonitoringPlan(ctx.RiskFactors)
	}
	return res
}

// buildExecutionPlan turns resolved intents into ordered steps,
// dropping duplicates while preserving first occurrence, with a rollback
// checkpoint before each step.
func buildExecutionPlan(intents []string) *ExecutionPlan {
	plan := &ExecutionPlan{}
	seen := make(map[string]bool, len(intents))
	for _, intent := range intents {
		intent = strings.TrimSpace(intent)
		if intent == "" || seen[intent] {
			continue
		}
		seen[intent] = true
		plan.Steps = append(plan.Steps, ExecutionStep{
			Command:    intent,
			Checkpoint: fmt.Sprintf("checkpoint-%d", len(plan.Steps)+1),
		})
	}
	return plan
}

func buildMonitoringPlan(riskFactors []string) *MonitoringPlan {
	plan := &MonitoringPlan{
		SafetyChecks: []string{
			"verify working tree is clean before each step",
			"run existing tests after each step",
		},
		RollbackTriggers: []string{
			"any step exits non-zero",
			"test failures introduced by a step",
		},
	}
	for _, rf := range riskFactors {
		rf = strings.TrimSpace(rf)
		if rf != "" {
			plan.SafetyChecks = append(plan.SafetyChecks, "watch for: "+rf)
		}
	}
	return plan
}
