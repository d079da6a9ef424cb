package alert

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/config"
)

// mockSender is a mock implementation of the Sender interface for testing.
type mockSender struct {
	name      string
	sendFunc  func(Alert) error
	mu        sync.Mutex
	callCount int
	lastAlert *Alert
}

func newMockSender(name string) *mockSender {
	return &mockSender{name: name}
}

func (m *mockSender) Name() string { return m.name }

func (m *mockSender) Send(alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastAlert = &alert
	if m.sendFunc != nil {
		return m.sendFunc(alert)
	}
	return nil
}

func (m *mockSender) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockSender) getLastAlert() *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastAlert == nil {
		return nil
	}
	copy := *m.lastAlert
	return &copy
}

func newTestManager(senders ...Sender) *Manager {
	return &Manager{
		config:   config.AlertsConfig{},
		senders:  senders,
		dedup:    make(map[string]time.Time),
		dedupTTL: 5 * time.Minute,
		logger:   slog.Default(),
	}
}

func TestNewManager_SenderRegistration(t *testing.T) {
	tests := []struct {
		name            string
		config          config.AlertsConfig
		expectedSenders int
	}{
		{
			name:            "no senders configured",
			config:          config.AlertsConfig{},
			expectedSenders: 0,
		},
		{
			name: "only slack configured",
			config: config.AlertsConfig{
				Slack: config.SlackAlertConfig{WebhookURL: "https://hooks.slack.com/test", Channel: "#alerts"},
			},
			expectedSenders: 1,
		},
		{
			name: "slack and webhook configured",
			config: config.AlertsConfig{
				Slack:   config.SlackAlertConfig{WebhookURL: "https://hooks.slack.com/test"},
				Webhook: config.WebhookAlertConfig{URL: "https://example.com/hook", Secret: "s3cret"},
			},
			expectedSenders: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.config, slog.Default())
			if len(m.senders) != tt.expectedSenders {
				t.Errorf("senders = %d, want %d", len(m.senders), tt.expectedSenders)
			}
			if m.HasSenders() != (tt.expectedSenders > 0) {
				t.Errorf("HasSenders() = %v, want %v", m.HasSenders(), tt.expectedSenders > 0)
			}
		})
	}
}

func TestManager_Send(t *testing.T) {
	mock := newMockSender("test-sender")
	m := newTestManager(mock)

	m.Send(Alert{
		Type:      "gate_pending",
		Severity:  "warning",
		Title:     "Confirmation needed",
		Message:   "delete 15 files",
		AgentID:   "agent-1",
		Operation: "file.delete",
	})
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 1 {
		t.Errorf("call count = %d, want 1", mock.getCallCount())
	}
	last := mock.getLastAlert()
	if last == nil {
		t.Fatal("lastAlert = nil, want alert")
	}
	if last.Type != "gate_pending" {
		t.Errorf("Type = %q, want \"gate_pending\"", last.Type)
	}
	if last.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestManager_Deduplication(t *testing.T) {
	mock := newMockSender("test-sender")
	m := newTestManager(mock)

	alert := Alert{
		Type:      "limit_violation",
		Severity:  "warning",
		Title:     "Rate limit",
		AgentID:   "agent-1",
		Operation: "file.create",
	}

	m.Send(alert)
	m.Send(alert)
	m.Send(alert)
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 1 {
		t.Errorf("call count = %d, want 1 (deduplicated)", mock.getCallCount())
	}

	// A different agent is a different dedup key.
	alert.AgentID = "agent-2"
	m.Send(alert)
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 2 {
		t.Errorf("call count = %d, want 2", mock.getCallCount())
	}
}

func TestManager_DedupTTLExpiry(t *testing.T) {
	mock := newMockSender("test-sender")
	m := newTestManager(mock)
	m.dedupTTL = 50 * time.Millisecond

	alert := Alert{Type: "emergency_pause", Severity: "critical", AgentID: "agent-1"}

	m.Send(alert)
	time.Sleep(80 * time.Millisecond)
	m.Send(alert)
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 2 {
		t.Errorf("call count = %d, want 2 (TTL expired between sends)", mock.getCallCount())
	}
}

func TestManager_SenderErrorDoesNotCrash(t *testing.T) {
	mock := newMockSender("failing-sender")
	mock.sendFunc = func(Alert) error {
		return &senderError{"failing-sender", "boom"}
	}
	m := newTestManager(mock)

	m.Send(Alert{Type: "emergency_stop", Severity: "critical", AgentID: "agent-1"})
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 1 {
		t.Errorf("call count = %d, want 1 attempt despite error", mock.getCallCount())
	}
}

type senderError struct {
	sender string
	msg    string
}

func (e *senderError) Error() string { return e.sender + ": " + e.msg }

func TestManager_PruneDedup(t *testing.T) {
	m := newTestManager()
	m.dedupTTL = 100 * time.Millisecond

	now := time.Now()
	m.dedup["old"] = now.Add(-300 * time.Millisecond)
	m.dedup["recent"] = now.Add(-50 * time.Millisecond)

	m.PruneDedup()

	if _, exists := m.dedup["old"]; exists {
		t.Error("old entry should have been pruned")
	}
	if _, exists := m.dedup["recent"]; !exists {
		t.Error("recent entry should not have been pruned")
	}
}

func TestManager_ConcurrentSend(t *testing.T) {
	mock := newMockSender("test-sender")
	m := newTestManager(mock)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Send(Alert{Type: "limit_violation", AgentID: "agent-1", Operation: "op"})
		}()
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if mock.getCallCount() != 1 {
		t.Errorf("call count = %d, want 1 (deduplicated)", mock.getCallCount())
	}
}
