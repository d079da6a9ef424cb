// Package gate implements the blocking two-phase human-confirmation
// protocol. A session writes a prompt to a shared transport, waits for an
// external responder, and — when the responder proposes to proceed —
// demands a second exchange echoing a one-time confirmation code before
// anything is approved. Every ambiguity resolves to stop.
package gate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentgate/agentgate/internal/alert"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/store"
)

// ErrGateActive is returned when Run is called while another session is in
// progress. Concurrent gates are rejected, never queued: a single-writer
// protocol is the point.
var ErrGateActive = errors.New("gate already active")

// codeAlphabet excludes easily confused characters (0/O, 1/I).
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

// Protocol runs confirmation sessions over a Transport. At most one
// session may be in flight system-wide.
type Protocol struct {
	transport Transport
	cfg       config.GateConfig
	store     store.Store
	alerts    *alert.Manager
	logger    *slog.Logger

	active atomic.Bool
}

// NewProtocol creates a Protocol. The store and alert manager may be nil.
func NewProtocol(transport Transport, cfg config.GateConfig, st store.Store, alerts *alert.Manager, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		transport: transport,
		cfg:       cfg,
		store:     st,
		alerts:    alerts,
		logger:    logger.With("component", "gate.Protocol"),
	}
}

// Active reports whether a session is currently in flight.
func (p *Protocol) Active() bool {
	return p.active.Load()
}

// Run executes one confirmation session and blocks the caller until it
// resolves, bounded by collect_timeout plus confirm_timeout. On every exit
// path all transport records are deleted, so a subsequent Run starts clean.
//
// This is the only operation in the admission core that is allowed to
// block its caller.
func (p *Protocol) Run(ctx context.Context, prompt Prompt) (Outcome, error) {
	if !p.active.CompareAndSwap(false, true) {
		return Outcome{Decision: DecisionStop, Reason: "gate already active"}, ErrGateActive
	}
	defer p.active.Store(false)

	gateID := ulid.Make().String()
	createdAt := time.Now()

	defer func() {
		if err := p.transport.Clear(); err != nil {
			p.logger.Error("failed to clear gate records", "gate_id", gateID, "error", err)
		}
	}()

	if err := p.transport.SetActive(true); err != nil {
		return Outcome{Decision: DecisionStop, Reason: "gate transport unavailable", Phase: PhaseCollect},
			fmt.Errorf("failed to mark gate active: %w", err)
	}

	p.logger.Info("gate session opened",
		"gate_id", gateID,
		"agent_id", prompt.AgentID,
		"operation", prompt.Operation,
	)
	p.sendAlert("gate_pending", "warning", prompt,
		fmt.Sprintf("Operation %q is waiting for human confirmation", prompt.Operation))

	outcome := p.run(ctx, gateID, prompt)

	p.logger.Info("gate session resolved",
		"gate_id", gateID,
		"agent_id", prompt.AgentID,
		"decision", string(outcome.Decision),
		"reason", outcome.Reason,
	)
	p.sendAlert("gate_resolved", "info", prompt,
		fmt.Sprintf("Gate for %q resolved: %s", prompt.Operation, outcome))
	p.audit(gateID, prompt, outcome, createdAt)

	return outcome, nil
}

func (p *Protocol) run(ctx context.Context, gateID string, prompt Prompt) Outcome {
	// Phase 1: collect the responder's answers.
	record := &PromptRecord{
		GateID:    gateID,
		Phase:     PhaseCollect,
		AgentID:   prompt.AgentID,
		Operation: prompt.Operation,
		Title:     prompt.Title,
		Context:   prompt.Context,
		Questions: prompt.Questions,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(p.cfg.CollectTimeout),
	}
	if err := p.transport.WritePrompt(record); err != nil {
		p.logger.Error("failed to write collect prompt", "gate_id", gateID, "error", err)
		return Outcome{Decision: DecisionStop, Reason: "failed to publish prompt", Phase: PhaseCollect}
	}

	resp := p.waitForResponse(ctx, p.cfg.CollectTimeout, PhaseCollect, "")
	if resp == nil {
		return Outcome{Decision: DecisionStop, Reason: "no valid response before collect timeout", Phase: PhaseCollect}
	}
	if resp.Decision != DecisionProceed {
		// Modify and stop are final; no confirmation phase follows.
		return Outcome{Decision: resp.Decision, Phase: PhaseCollect}
	}

	// Phase 2: confirm with a one-time code.
	code, err := generateCode()
	if err != nil {
		p.logger.Error("failed to generate confirmation code", "gate_id", gateID, "error", err)
		return Outcome{Decision: DecisionStop, Reason: "failed to generate confirmation code", Phase: PhaseConfirm}
	}
	if err := p.transport.ClearResponse(); err != nil {
		p.logger.Error("failed to clear collect response", "gate_id", gateID, "error", err)
		return Outcome{Decision: DecisionStop, Reason: "gate transport unavailable", Phase: PhaseConfirm}
	}

	confirm := &PromptRecord{
		GateID:           gateID,
		Phase:            PhaseConfirm,
		AgentID:          prompt.AgentID,
		Operation:        prompt.Operation,
		Title:            "Confirm: " + prompt.Title,
		ProposedAnswers:  resp.Answers,
		ConfirmationCode: code,
		CreatedAt:        time.Now(),
		ExpiresAt:        time.Now().Add(p.cfg.ConfirmTimeout),
	}
	if err := p.transport.WritePrompt(confirm); err != nil {
		p.logger.Error("failed to write confirm prompt", "gate_id", gateID, "error", err)
		return Outcome{Decision: DecisionStop, Reason: "failed to publish confirmation prompt", Phase: PhaseConfirm}
	}

	resp = p.waitForResponse(ctx, p.cfg.ConfirmTimeout, PhaseConfirm, code)
	if resp == nil {
		return Outcome{Decision: DecisionStop, Reason: "no valid response before confirm timeout", Phase: PhaseConfirm}
	}
	if resp.Decision != DecisionProceed {
		return Outcome{Decision: DecisionStop,
			Reason: fmt.Sprintf("confirmation declined with %q", resp.Decision), Phase: PhaseConfirm}
	}
	if resp.ConfirmationCode != code {
		return Outcome{Decision: DecisionStop, Reason: "confirmation mismatch: wrong or missing code", Phase: PhaseConfirm}
	}

	return Outcome{Decision: DecisionProceed, Phase: PhaseConfirm}
}

// waitForResponse blocks until a structurally valid response appears, the
// timeout elapses, or ctx is cancelled. Invalid responses are discarded and
// the wait continues.
//
// In the confirm phase a wrong code is NOT treated as invalid: it is a
// final answer that the caller resolves to stop. Discarding it would give
// a spoofing responder unlimited retries against the code.
func (p *Protocol) waitForResponse(ctx context.Context, timeout time.Duration, phase Phase, code string) *Response {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	pollInterval := p.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	changes := p.transport.Changes()

	for {
		resp, err := p.transport.ReadResponse()
		if err != nil {
			p.logger.Error("failed to read gate response", "error", err)
		} else if resp != nil {
			if reason := p.validate(resp, phase); reason == "" {
				return resp
			} else {
				p.logger.Warn("discarding invalid gate response",
					"phase", string(phase),
					"reason", reason,
				)
				if err := p.transport.ClearResponse(); err != nil {
					p.logger.Error("failed to clear invalid response", "error", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-poll.C:
		case <-changes:
		}
	}
}

// validate returns "" for a usable response, or the reason it is not.
func (p *Protocol) validate(r *Response, phase Phase) string {
	if !r.Decision.Valid() {
		return fmt.Sprintf("unknown decision tag %q", r.Decision)
	}
	if r.At.IsZero() {
		return "missing timestamp"
	}
	if phase == PhaseCollect && len(nonEmpty(r.Answers)) == 0 {
		return "empty answers"
	}
	if match := p.spoofMatch(r.Answers); match != "" {
		return fmt.Sprintf("answer matches self-answered pattern %q", match)
	}
	return ""
}

// spoofMatch screens answers against the configured self-answered phrase
// patterns and returns the first pattern hit. This is an anti-spoofing
// check on the relaying process, not a judgment on answer quality.
func (p *Protocol) spoofMatch(answers []string) string {
	for _, answer := range answers {
		lower := strings.ToLower(answer)
		for _, pattern := range p.cfg.SpoofPatterns {
			if pattern != "" && strings.Contains(lower, strings.ToLower(pattern)) {
				return pattern
			}
		}
	}
	return ""
}

func (p *Protocol) audit(gateID string, prompt Prompt, outcome Outcome, createdAt time.Time) {
	if p.store == nil {
		return
	}
	err := p.store.InsertGateAudit(&store.GateAudit{
		ID:         gateID,
		AgentID:    prompt.AgentID,
		Operation:  prompt.Operation,
		Outcome:    string(outcome.Decision),
		Phase:      string(outcome.Phase),
		Reason:     outcome.Reason,
		CreatedAt:  createdAt,
		ResolvedAt: time.Now(),
	})
	if err != nil {
		p.logger.Error("failed to persist gate audit", "gate_id", gateID, "error", err)
	}
}

func (p *Protocol) sendAlert(alertType, severity string, prompt Prompt, message string) {
	if p.alerts == nil {
		return
	}
	p.alerts.Send(alert.Alert{
		Type:      alertType,
		Severity:  severity,
		Title:     prompt.Title,
		Message:   message,
		AgentID:   prompt.AgentID,
		Operation: prompt.Operation,
	})
}

func nonEmpty(answers []string) []string {
	out := answers[:0:0]
	for _, a := range answers {
		if strings.TrimSpace(a) != "" {
			out = append(out, a)
		}
	}
	return out
}

// generateCode returns a short random one-time code.
func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}
