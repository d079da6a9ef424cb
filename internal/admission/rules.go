package admission

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/agentgate/agentgate/internal/config"
)

// RuleEffect is what a matched rule forces.
type RuleEffect string

const (
	// EffectGate routes the request through a confirmation gate.
	EffectGate RuleEffect = "gate"
	// EffectDeny rejects the request outright.
	EffectDeny RuleEffect = "deny"
)

// compiledRule is one operation-pattern rule with its pre-compiled CEL
// program.
type compiledRule struct {
	name    string
	effect  RuleEffect
	message string
	program cel.Program
}

// RuleMatch is a rule that fired for a request.
type RuleMatch struct {
	Name    string
	Effect  RuleEffect
	Message string
}

// RuleSet compiles and evaluates the static operation-pattern rules from
// configuration. Rules are compiled once per load; evaluation is lock-free
// under the read lock and safe for concurrent use. Reload swaps the whole
// set atomically.
type RuleSet struct {
	env    *cel.Env
	logger *slog.Logger

	mu    sync.RWMutex
	rules []compiledRule
}

// NewRuleSet creates the CEL environment and compiles the given rules.
// A rule that fails to compile is skipped with a warning, not fatal: a
// typo in one rule must not take down admission control.
func NewRuleSet(rules []config.RuleConfig, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("op.name", cel.StringType),
		cel.Variable("op.agent_id", cel.StringType),
		cel.Variable("op.context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rs := &RuleSet{
		env:    env,
		logger: logger.With("component", "admission.RuleSet"),
	}
	rs.rules = rs.compile(rules)
	return rs, nil
}

// Reload replaces the rule set with freshly compiled rules.
func (rs *RuleSet) Reload(rules []config.RuleConfig) {
	compiled := rs.compile(rules)
	rs.mu.Lock()
	rs.rules = compiled
	rs.mu.Unlock()
	rs.logger.Info("rules reloaded", "count", len(compiled))
}

// Len reports how many rules compiled successfully.
func (rs *RuleSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.rules)
}

func (rs *RuleSet) compile(rules []config.RuleConfig) []compiledRule {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		effect := RuleEffect(rule.Effect)
		if effect != EffectGate && effect != EffectDeny {
			rs.logger.Warn("skipping rule with unknown effect", "rule", rule.Name, "effect", rule.Effect)
			continue
		}

		ast, issues := rs.env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			rs.logger.Warn("skipping rule that failed to compile",
				"rule", rule.Name, "error", issues.Err())
			continue
		}
		if ast.OutputType() != cel.BoolType {
			rs.logger.Warn("skipping rule whose condition is not boolean",
				"rule", rule.Name, "type", ast.OutputType().String())
			continue
		}
		prg, err := rs.env.Program(ast)
		if err != nil {
			rs.logger.Warn("skipping rule whose program could not be built",
				"rule", rule.Name, "error", err)
			continue
		}

		compiled = append(compiled, compiledRule{
			name:    rule.Name,
			effect:  effect,
			message: rule.Message,
			program: prg,
		})
	}
	return compiled
}

// Evaluate runs every rule against the request and returns the matches in
// rule order. A rule whose evaluation errors fails closed: it comes back as
// a deny match so a gate or deny rule never silently stops applying.
func (rs *RuleSet) Evaluate(req *OperationRequest) []RuleMatch {
	opContext := req.Context
	if opContext == nil {
		opContext = map[string]interface{}{}
	}
	vars := map[string]interface{}{
		"op.name":     req.Operation,
		"op.agent_id": req.AgentID,
		"op.context":  opContext,
	}

	rs.mu.RLock()
	rules := rs.rules
	rs.mu.RUnlock()

	var matches []RuleMatch
	for _, rule := range rules {
		out, _, err := rule.program.Eval(vars)
		if err != nil {
			rs.logger.Error("rule evaluation error, failing closed (deny)",
				"rule", rule.name, "error", err)
			matches = append(matches, RuleMatch{
				Name:    rule.name,
				Effect:  EffectDeny,
				Message: "rule evaluation error: " + err.Error(),
			})
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok {
			rs.logger.Error("rule returned non-bool, failing closed (deny)",
				"rule", rule.name)
			matches = append(matches, RuleMatch{
				Name:    rule.name,
				Effect:  EffectDeny,
				Message: "rule evaluation error: condition did not yield a boolean",
			})
			continue
		}
		if matched {
			matches = append(matches, RuleMatch{
				Name:    rule.name,
				Effect:  rule.effect,
				Message: rule.message,
			})
		}
	}
	return matches
}
