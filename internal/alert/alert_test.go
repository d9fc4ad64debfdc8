package alert

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"position_copier/internal/core"
)

type mockAlertChannel struct {
	name string
	sent []AlertPayload
	mu   sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert AlertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	return nil
}

func (m *mockAlertChannel) getSent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]AlertPayload, len(m.sent))
	copy(res, m.sent)
	return res
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func TestAlertManager_Alert(t *testing.T) {
	am := NewAlertManager(&mockLogger{})

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2"}

	am.AddChannel(ch1)
	am.AddChannel(ch2)

	am.Alert(context.Background(), "Test Alert", "This is a test", Info, map[string]string{"key": "value"})

	// Wait for goroutines (Alert is async)
	time.Sleep(100 * time.Millisecond)

	sent1 := ch1.getSent()
	sent2 := ch2.getSent()

	if len(sent1) != 1 {
		t.Errorf("Expected ch1 to receive 1 alert, got %d", len(sent1))
	}
	if len(sent2) != 1 {
		t.Errorf("Expected ch2 to receive 1 alert, got %d", len(sent2))
	}

	payload := sent1[0]
	if payload.Title != "Test Alert" {
		t.Errorf("Expected title 'Test Alert', got '%s'", payload.Title)
	}
	if payload.Level != Info {
		t.Errorf("Expected level INFO, got %s", payload.Level)
	}
	if payload.Fields["key"] != "value" {
		t.Errorf("Expected field key=value, got %s", payload.Fields["key"])
	}
}

func TestNotifier_OnChange(t *testing.T) {
	am := NewAlertManager(&mockLogger{})
	ch := &mockAlertChannel{name: "mock"}
	am.AddChannel(ch)

	n := NewNotifier(am)
	n.OnChange(core.ChangeEvent{
		Timestamp: time.Now(),
		Symbol:    "BTC",
		Kind:      core.ChangeOpened,
		Side:      core.SideLong,
		NewSize:   decimal.NewFromInt(1),
		Price:     decimal.NewFromInt(50000),
		Leverage:  decimal.NewFromInt(10),
	})

	time.Sleep(100 * time.Millisecond)

	sent := ch.getSent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(sent))
	}
	if !strings.Contains(sent[0].Message, "BTC") {
		t.Errorf("Expected message to name the symbol, got '%s'", sent[0].Message)
	}
	if sent[0].Fields["symbol"] != "BTC" {
		t.Errorf("Expected symbol field, got %v", sent[0].Fields)
	}
}

func TestNotifier_FlippedIsWarning(t *testing.T) {
	am := NewAlertManager(&mockLogger{})
	ch := &mockAlertChannel{name: "mock"}
	am.AddChannel(ch)

	n := NewNotifier(am)
	n.OnChange(core.ChangeEvent{
		Symbol:  "ETH",
		Kind:    core.ChangeFlipped,
		Side:    core.SideShort,
		NewSize: decimal.NewFromInt(2),
	})

	time.Sleep(100 * time.Millisecond)

	sent := ch.getSent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(sent))
	}
	if sent[0].Level != Warning {
		t.Errorf("Expected WARNING level for a flip, got %s", sent[0].Level)
	}
}
