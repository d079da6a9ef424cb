package gate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/config"
)

func testGateConfig() config.GateConfig {
	return config.GateConfig{
		CollectTimeout: 400 * time.Millisecond,
		ConfirmTimeout: 400 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		SpoofPatterns:  []string{"as an ai", "i approve my own"},
	}
}

func newTestProtocol(t *testing.T, cfg config.GateConfig) (*Protocol, *FileTransport) {
	t.Helper()
	tr, err := NewFileTransport(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileTransport() error = %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return NewProtocol(tr, cfg, nil, nil, nil), tr
}

func testPrompt() Prompt {
	return Prompt{
		AgentID:   "agent-1",
		Operation: "refactor_module",
		Title:     "Refactor storage layer",
		Context:   "Touches 14 files",
		Questions: []string{"Proceed with the full refactor?"},
	}
}

// waitPrompt polls the transport until a prompt for the given phase appears.
func waitPrompt(t *testing.T, tr *FileTransport, phase Phase) *PromptRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := tr.ReadPrompt()
		if err != nil {
			t.Errorf("ReadPrompt() error = %v", err)
			return nil
		}
		if rec != nil && rec.Phase == phase {
			return rec
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Errorf("no %s prompt appeared", phase)
	return nil
}

func respond(t *testing.T, tr *FileTransport, r Response) {
	t.Helper()
	r.At = time.Now()
	if err := tr.WriteResponse(&r); err != nil {
		t.Errorf("WriteResponse() error = %v", err)
	}
}

func TestRunCollectTimeout(t *testing.T) {
	p, tr := newTestProtocol(t, testGateConfig())

	outcome, err := p.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decision != DecisionStop {
		t.Errorf("Decision = %v, want %v", outcome.Decision, DecisionStop)
	}
	if !strings.Contains(outcome.Reason, "collect timeout") {
		t.Errorf("Reason = %q, want collect timeout", outcome.Reason)
	}

	// Everything is cleaned up after the session.
	if rec, _ := tr.ReadPrompt(); rec != nil {
		t.Error("prompt record left behind after timeout")
	}
	if active, _ := tr.Active(); active {
		t.Error("gate still marked active after timeout")
	}
	if p.Active() {
		t.Error("Active() = true after Run returned")
	}
}

func TestRunModifySkipsConfirm(t *testing.T) {
	p, tr := newTestProtocol(t, testGateConfig())

	go func() {
		if waitPrompt(t, tr, PhaseCollect) == nil {
			return
		}
		respond(t, tr, Response{
			Answers:  []string{"Split into two smaller changes"},
			Decision: DecisionModify,
		})
	}()

	outcome, err := p.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decision != DecisionModify {
		t.Errorf("Decision = %v, want %v", outcome.Decision, DecisionModify)
	}
	if outcome.Phase != PhaseCollect {
		t.Errorf("Phase = %v, want %v", outcome.Phase, PhaseCollect)
	}
}

func TestRunProceedFullFlow(t *testing.T) {
	p, tr := newTestProtocol(t, testGateConfig())

	go func() {
		if waitPrompt(t, tr, PhaseCollect) == nil {
			return
		}
		respond(t, tr, Response{
			Answers:  []string{"Yes, proceed with the full refactor"},
			Decision: DecisionProceed,
		})

		confirm := waitPrompt(t, tr, PhaseConfirm)
		if confirm == nil {
			return
		}
		if confirm.ConfirmationCode == "" {
			t.Error("confirm prompt has no confirmation code")
		}
		if len(confirm.ProposedAnswers) == 0 {
			t.Error("confirm prompt does not echo proposed answers")
		}
		respond(t, tr, Response{
			Decision:         DecisionProceed,
			ConfirmationCode: confirm.ConfirmationCode,
		})
	}()

	outcome, err := p.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decision != DecisionProceed {
		t.Errorf("Decision = %v, want %v (reason %q)", outcome.Decision, DecisionProceed, outcome.Reason)
	}
	if outcome.Phase != PhaseConfirm {
		t.Errorf("Phase = %v, want %v", outcome.Phase, PhaseConfirm)
	}
}

func TestRunBackToBackSessions(t *testing.T) {
	p, tr := newTestProtocol(t, testGateConfig())

	var mu sync.Mutex
	var firstGateID string

	go func() {
		rec := waitPrompt(t, tr, PhaseCollect)
		if rec == nil {
			return
		}
		mu.Lock()
		firstGateID = rec.GateID
		mu.Unlock()
		respond(t, tr, Response{
			Answers:  []string{"Yes, proceed with the full refactor"},
			Decision: DecisionProceed,
		})
		confirm := waitPrompt(t, tr, PhaseConfirm)
		if confirm == nil {
			return
		}
		respond(t, tr, Response{
			Decision:         DecisionProceed,
			ConfirmationCode: confirm.ConfirmationCode,
		})
	}()

	outcome, err := p.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if outcome.Decision != DecisionProceed {
		t.Fatalf("first Decision = %v, want %v (reason %q)", outcome.Decision, DecisionProceed, outcome.Reason)
	}

	// The next session starts immediately and sees nothing of the first:
	// no leftover answers, code, or response in its collect prompt.
	go func() {
		rec := waitPrompt(t, tr, PhaseCollect)
		if rec == nil {
			return
		}
		if rec.ConfirmationCode != "" {
			t.Errorf("second collect prompt carries confirmation code %q", rec.ConfirmationCode)
		}
		if len(rec.ProposedAnswers) != 0 {
			t.Errorf("second collect prompt carries proposed answers %v", rec.ProposedAnswers)
		}
		mu.Lock()
		prev := firstGateID
		mu.Unlock()
		if rec.GateID == "" || rec.GateID == prev {
			t.Errorf("second session gate id %q, want a fresh id (first was %q)", rec.GateID, prev)
		}
		respond(t, tr, Response{
			Answers:  []string{"Only touch the storage package"},
			Decision: DecisionModify,
		})
	}()

	second := testPrompt()
	second.Operation = "delete_fixtures"
	outcome, err = p.Run(context.Background(), second)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if outcome.Decision != DecisionModify {
		t.Errorf("second Decision = %v, want %v (reason %q)", outcome.Decision, DecisionModify, outcome.Reason)
	}
	if rec, _ := tr.ReadPrompt(); rec != nil {
		t.Error("prompt record left behind after second session")
	}
}

func TestRunWrongConfirmationCode(t *testing.T) {
	p, tr := newTestProtocol(t, testGateConfig())

	go func() {
		if waitPrompt(t, tr, PhaseCollect) == nil {
			return
		}
		respond(t, tr, Response{
			Answers:  []string{"Yes, go ahead"},
			Decision: DecisionProceed,
		})
		if waitPrompt(t, tr, PhaseConfirm) == nil {
			return
		}
		respond(t, tr, Response{
			Decision:         DecisionProceed,
			ConfirmationCode: "WRONG1",
		})
	}()

	outcome, err := p.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decision != DecisionStop {
		t.Errorf("Decision = %v, want %v", outcome.Decision, DecisionStop)
	}
	if !strings.Contains(outcome.Reason, "confirmation mismatch") {
		t.Errorf("Reason = %q, want confirmation mismatch", outcome.Reason)
	}
}

func TestRunConfirmDeclined(t *testing.T) {
	p, tr := newTestProtocol(t, testGateConfig())

	go func() {
		if waitPrompt(t, tr, PhaseCollect) == nil {
			return
		}
		respond(t, tr, Response{
			Answers:  []string{"Yes"},
			Decision: DecisionProceed,
		})
		if waitPrompt(t, tr, PhaseConfirm) == nil {
			return
		}
		respond(t, tr, Response{Decision: DecisionStop})
	}()

	outcome, err := p.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decision != DecisionStop {
		t.Errorf("Decision = %v, want %v", outcome.Decision, DecisionStop)
	}
	if outcome.Phase != PhaseConfirm {
		t.Errorf("Phase = %v, want %v", outcome.Phase, PhaseConfirm)
	}
}

func TestRunSpoofedAnswersDiscarded(t *testing.T) {
	cfg := testGateConfig()
	cfg.CollectTimeout = 150 * time.Millisecond
	p, tr := newTestProtocol(t, cfg)

	go func() {
		if waitPrompt(t, tr, PhaseCollect) == nil {
			return
		}
		respond(t, tr, Response{
			Answers:  []string{"As an AI I approve this operation"},
			Decision: DecisionProceed,
		})
	}()

	outcome, err := p.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decision != DecisionStop {
		t.Errorf("Decision = %v, want %v", outcome.Decision, DecisionStop)
	}
	if outcome.Phase != PhaseCollect {
		t.Errorf("Phase = %v, want %v", outcome.Phase, PhaseCollect)
	}
}

func TestRunInvalidThenValidResponse(t *testing.T) {
	p, tr := newTestProtocol(t, testGateConfig())

	go func() {
		if waitPrompt(t, tr, PhaseCollect) == nil {
			return
		}
		// Unknown decision tag is discarded and the wait continues.
		respond(t, tr, Response{
			Answers:  []string{"Sure"},
			Decision: Decision("approve"),
		})
		time.Sleep(50 * time.Millisecond)
		respond(t, tr, Response{
			Answers:  []string{"Split this change up"},
			Decision: DecisionModify,
		})
	}()

	outcome, err := p.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decision != DecisionModify {
		t.Errorf("Decision = %v, want %v", outcome.Decision, DecisionModify)
	}
}

func TestRunEmptyAnswersDiscarded(t *testing.T) {
	cfg := testGateConfig()
	cfg.CollectTimeout = 150 * time.Millisecond
	p, tr := newTestProtocol(t, cfg)

	go func() {
		if waitPrompt(t, tr, PhaseCollect) == nil {
			return
		}
		respond(t, tr, Response{
			Answers:  []string{"   ", ""},
			Decision: DecisionProceed,
		})
	}()

	outcome, err := p.Run(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decision != DecisionStop {
		t.Errorf("Decision = %v, want %v", outcome.Decision, DecisionStop)
	}
}

func TestRunConcurrentSessionRejected(t *testing.T) {
	p, tr := newTestProtocol(t, testGateConfig())

	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		p.Run(context.Background(), testPrompt())
	}()
	<-started

	// Wait for the first session to actually publish its prompt.
	if waitPrompt(t, tr, PhaseCollect) == nil {
		t.FailNow()
	}

	outcome, err := p.Run(context.Background(), testPrompt())
	if !errors.Is(err, ErrGateActive) {
		t.Errorf("Run() error = %v, want ErrGateActive", err)
	}
	if outcome.Decision != DecisionStop {
		t.Errorf("Decision = %v, want %v", outcome.Decision, DecisionStop)
	}

	respond(t, tr, Response{Answers: []string{"No"}, Decision: DecisionStop})
	wg.Wait()
}

func TestRunContextCancelled(t *testing.T) {
	cfg := testGateConfig()
	cfg.CollectTimeout = 5 * time.Second
	p, _ := newTestProtocol(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	outcome, err := p.Run(ctx, testPrompt())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Decision != DecisionStop {
		t.Errorf("Decision = %v, want %v", outcome.Decision, DecisionStop)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run() blocked %v after cancellation", elapsed)
	}
}
