package gate

import (
	"fmt"
	"time"
)

// Decision is the closed set of outcomes a gate session can resolve to.
// The zero value is intentionally invalid so that a missing or malformed
// decision tag never reads as permission.
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionModify  Decision = "modify"
	DecisionStop    Decision = "stop"
)

// Valid reports whether d is one of the known decision tags.
func (d Decision) Valid() bool {
	switch d {
	case DecisionProceed, DecisionModify, DecisionStop:
		return true
	}
	return false
}

// Phase identifies where a session is in the two-phase exchange.
type Phase string

const (
	PhaseCollect Phase = "collect"
	PhaseConfirm Phase = "confirm"
)

// Prompt is what the caller wants confirmed. The protocol renders it into
// transport records; the caller never touches the transport directly.
type Prompt struct {
	AgentID   string   `json:"agent_id"`
	Operation string   `json:"operation"`
	Title     string   `json:"title"`
	Context   string   `json:"context"`
	Questions []string `json:"questions"`
}

// PromptRecord is the durable record an external responder reads. During
// the confirm phase it carries the proposed answers from the collect phase
// and the one-time confirmation code the responder must echo back.
type PromptRecord struct {
	GateID           string    `json:"gate_id"`
	Phase            Phase     `json:"phase"`
	AgentID          string    `json:"agent_id"`
	Operation        string    `json:"operation"`
	Title            string    `json:"title"`
	Context          string    `json:"context,omitempty"`
	Questions        []string  `json:"questions,omitempty"`
	ProposedAnswers  []string  `json:"proposed_answers,omitempty"`
	ConfirmationCode string    `json:"confirmation_code,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Response is the wire contract for what an external responder writes back.
type Response struct {
	Answers          []string  `json:"answers,omitempty"`
	Decision         Decision  `json:"decision"`
	ConfirmationCode string    `json:"confirmation_code,omitempty"`
	At               time.Time `json:"at"`
}

// Outcome is the resolved result of one Run. Reason explains every
// non-proceed resolution.
type Outcome struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason,omitempty"`
	Phase    Phase    `json:"phase"`
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Decision)
	}
	return fmt.Sprintf("%s (%s)", o.Decision, o.Reason)
}
