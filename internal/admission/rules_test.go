package admission

import (
	"testing"

	"github.com/agentgate/agentgate/internal/config"
)

func TestRuleSetEvaluate(t *testing.T) {
	rs, err := NewRuleSet([]config.RuleConfig{
		{
			Name:      "destructive",
			Condition: `op.name.contains("delete") || op.name.contains("remove")`,
			Effect:    "gate",
			Message:   "destructive operations require confirmation",
		},
		{
			Name:      "blocked-agent",
			Condition: `op.agent_id == "rogue"`,
			Effect:    "deny",
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewRuleSet() error = %v", err)
	}

	matches := rs.Evaluate(&OperationRequest{AgentID: "a1", Operation: "delete old logs"})
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Name != "destructive" || matches[0].Effect != EffectGate {
		t.Errorf("match = %+v, want destructive/gate", matches[0])
	}

	matches = rs.Evaluate(&OperationRequest{AgentID: "rogue", Operation: "read_file"})
	if len(matches) != 1 || matches[0].Effect != EffectDeny {
		t.Errorf("matches = %+v, want one deny match", matches)
	}

	if matches := rs.Evaluate(&OperationRequest{AgentID: "a1", Operation: "read_file"}); len(matches) != 0 {
		t.Errorf("matches = %+v, want none", matches)
	}
}

func TestRuleSetContextVariables(t *testing.T) {
	rs, err := NewRuleSet([]config.RuleConfig{
		{
			Name:      "large-batch",
			Condition: `op.context["files"] > 10`,
			Effect:    "gate",
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewRuleSet() error = %v", err)
	}

	matches := rs.Evaluate(&OperationRequest{
		AgentID:   "a1",
		Operation: "bulk_edit",
		Context:   map[string]interface{}{"files": 15},
	})
	if len(matches) != 1 {
		t.Errorf("got %d matches, want 1", len(matches))
	}

	// A missing context key errors at evaluation time; the rule must fail
	// closed as a deny rather than silently stop applying.
	matches = rs.Evaluate(&OperationRequest{AgentID: "a1", Operation: "bulk_edit"})
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1 deny for missing context key", len(matches))
	}
	if matches[0].Effect != EffectDeny {
		t.Errorf("match Effect = %v, want %v", matches[0].Effect, EffectDeny)
	}
	if matches[0].Name != "large-batch" {
		t.Errorf("match Name = %q, want \"large-batch\"", matches[0].Name)
	}
}

func TestRuleSetEvaluationErrorFailsClosed(t *testing.T) {
	rs, err := NewRuleSet([]config.RuleConfig{
		{
			Name:      "context-gate",
			Condition: `op.context["risk"] == "high"`,
			Effect:    "gate",
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewRuleSet() error = %v", err)
	}

	matches := rs.Evaluate(&OperationRequest{
		AgentID:   "a1",
		Operation: "deploy",
		Context:   map[string]interface{}{},
	})
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Effect != EffectDeny {
		t.Errorf("match Effect = %v, want %v", matches[0].Effect, EffectDeny)
	}
	if matches[0].Message == "" {
		t.Error("deny match has empty message, want the evaluation error")
	}
}

func TestRuleSetSkipsInvalidRules(t *testing.T) {
	rs, err := NewRuleSet([]config.RuleConfig{
		{Name: "broken-syntax", Condition: `op.name.contains(`, Effect: "gate"},
		{Name: "not-boolean", Condition: `op.name`, Effect: "gate"},
		{Name: "bad-effect", Condition: `true`, Effect: "quarantine"},
		{Name: "valid", Condition: `op.name == "x"`, Effect: "deny"},
	}, nil)
	if err != nil {
		t.Fatalf("NewRuleSet() error = %v", err)
	}

	matches := rs.Evaluate(&OperationRequest{AgentID: "a1", Operation: "x"})
	if len(matches) != 1 || matches[0].Name != "valid" {
		t.Errorf("matches = %+v, want only the valid rule", matches)
	}
}

func TestRuleSetReload(t *testing.T) {
	rs, err := NewRuleSet([]config.RuleConfig{
		{Name: "old", Condition: `op.name == "a"`, Effect: "deny"},
	}, nil)
	if err != nil {
		t.Fatalf("NewRuleSet() error = %v", err)
	}

	rs.Reload([]config.RuleConfig{
		{Name: "new", Condition: `op.name == "b"`, Effect: "gate"},
	})

	if matches := rs.Evaluate(&OperationRequest{Operation: "a"}); len(matches) != 0 {
		t.Errorf("old rule still matches after reload: %+v", matches)
	}
	matches := rs.Evaluate(&OperationRequest{Operation: "b"})
	if len(matches) != 1 || matches[0].Name != "new" {
		t.Errorf("matches = %+v, want the reloaded rule", matches)
	}
}
