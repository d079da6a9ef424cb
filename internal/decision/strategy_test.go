package decision

import (
	"strings"
	"testing"

	"github.com/agentgate/agentgate/internal/config"
)

func newTestStrategy() *Strategy {
	return NewStrategy(config.DecisionConfig{
		SimpleThreshold:   0.6,
		ModerateThreshold: 0.7,
		ComplexThreshold:  0.8,
	}, nil)
}

func TestDecideTierBands(t *testing.T) {
	s := newTestStrategy()

	tests := []struct {
		name       string
		tier       Tier
		confidence float64
		want       Outcome
	}{
		{"simple high", TierSimple, 0.85, OutcomeProceed},
		{"simple at threshold", TierSimple, 0.6, OutcomeProceed},
		{"simple mid", TierSimple, 0.5, OutcomeRequestConfirmation},
		{"simple band floor", TierSimple, 0.4, OutcomeRequestConfirmation},
		{"simple low", TierSimple, 0.3, OutcomeRequestClarification},

		{"moderate high", TierModerate, 0.9, OutcomeProceedWithMonitoring},
		{"moderate at threshold", TierModerate, 0.7, OutcomeProceedWithMonitoring},
		{"moderate mid", TierModerate, 0.6, OutcomeRequestConfirmation},
		{"moderate low", TierModerate, 0.45, OutcomeRequestClarification},

		{"complex max confidence", TierComplex, 1.0, OutcomeRequestConfirmation},
		{"complex at threshold", TierComplex, 0.8, OutcomeRequestConfirmation},
		{"complex mid", TierComplex, 0.7, OutcomeRequestClarification},
		{"complex low", TierComplex, 0.5, OutcomeEscalate},

		{"critical max confidence", TierCritical, 1.0, OutcomeEscalate},
		{"critical zero", TierCritical, 0, OutcomeEscalate},

		{"unknown tier", Tier("trivial"), 1.0, OutcomeEscalate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Decide(Context{Tier: tt.tier, Confidence: tt.confidence})
			if res.Outcome != tt.want {
				t.Errorf("Decide(%s, %.2f) = %v, want %v", tt.tier, tt.confidence, res.Outcome, tt.want)
			}
			if res.Reasoning == "" {
				t.Error("Decide() returned empty reasoning")
			}
		})
	}
}

// Within one tier, raising confidence must never make the outcome more
// restrictive.
func TestDecideMonotonicInConfidence(t *testing.T) {
	s := newTestStrategy()

	for _, tier := range []Tier{TierSimple, TierModerate, TierComplex, TierCritical} {
		prev := OutcomeReject
		for c := 0.0; c <= 1.0; c += 0.01 {
			out := s.Decide(Context{Tier: tier, Confidence: c}).Outcome
			if out < prev {
				t.Fatalf("tier %s: outcome dropped from %v to %v at confidence %.2f", tier, prev, out, c)
			}
			prev = out
		}
	}
}

func TestDecideExecutionPlan(t *testing.T) {
	s := newTestStrategy()

	res := s.Decide(Context{
		Tier:       TierSimple,
		Confidence: 0.9,
		Intents:    []string{"create file a.go", "run tests", "create file a.go", "  ", "run tests"},
	})
	if res.ExecutionPlan == nil {
		t.Fatal("no execution plan for autonomous outcome")
	}
	if got := len(res.ExecutionPlan.Steps); got != 2 {
		t.Fatalf("plan has %d steps, want 2 (deduplicated)", got)
	}
	if res.ExecutionPlan.Steps[0].Command != "create file a.go" {
		t.Errorf("step 1 = %q, want first intent preserved in order", res.ExecutionPlan.Steps[0].Command)
	}
	for i, step := range res.ExecutionPlan.Steps {
		if step.Checkpoint == "" {
			t.Errorf("step %d has no rollback checkpoint", i+1)
		}
	}
	if res.MonitoringPlan != nil {
		t.Error("unexpected monitoring plan for plain proceed")
	}
}

func TestDecideMonitoringPlan(t *testing.T) {
	s := newTestStrategy()

	res := s.Decide(Context{
		Tier:        TierModerate,
		Confidence:  0.85,
		RiskFactors: []string{"touches migration files"},
		Intents:     []string{"apply schema change"},
	})
	if res.Outcome != OutcomeProceedWithMonitoring {
		t.Fatalf("Outcome = %v, want %v", res.Outcome, OutcomeProceedWithMonitoring)
	}
	if res.MonitoringPlan == nil {
		t.Fatal("no monitoring plan")
	}
	if len(res.MonitoringPlan.RollbackTriggers) == 0 {
		t.Error("monitoring plan has no rollback triggers")
	}
	found := false
	for _, check := range res.MonitoringPlan.SafetyChecks {
		if strings.Contains(check, "touches migration files") {
			found = true
		}
	}
	if !found {
		t.Error("risk factor not reflected in safety checks")
	}
	if res.ExecutionPlan == nil || len(res.ExecutionPlan.Steps) != 1 {
		t.Error("monitored proceed should still carry an execution plan")
	}
	if !strings.Contains(res.Reasoning, "touches migration files") {
		t.Errorf("Reasoning = %q, want risk factors mentioned", res.Reasoning)
	}
}

func TestOutcomeHelpers(t *testing.T) {
	if !OutcomeProceed.Autonomous() || !OutcomeProceedWithMonitoring.Autonomous() {
		t.Error("proceed outcomes should be autonomous")
	}
	if OutcomeRequestConfirmation.Autonomous() {
		t.Error("request_confirmation should not be autonomous")
	}
	if !OutcomeRequestConfirmation.NeedsConfirmation() {
		t.Error("request_confirmation should route to the gate")
	}
	if OutcomeEscalate.String() != "escalate" {
		t.Errorf("String() = %q, want %q", OutcomeEscalate.String(), "escalate")
	}
}
