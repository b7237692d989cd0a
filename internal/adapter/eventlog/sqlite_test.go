package eventlog

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"relay-ai/internal/domain"
	"relay-ai/internal/usecase/eventbus"
)

func newTestLog(t *testing.T) *SQLiteEventLog {
	t.Helper()
	l, err := NewSQLiteEventLog(filepath.Join(t.TempDir(), "events.db"), slog.Default())
	if err != nil {
		t.Fatalf("NewSQLiteEventLog: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAndRecent(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i, typ := range []domain.EventType{
		domain.EventMessageReceived,
		domain.EventMessageSent,
		domain.EventTurnCompleted,
	} {
		err := l.Append(ctx, domain.Event{
			Type:           typ,
			ConversationID: "c1",
			Payload:        []byte(`{"n":1}`),
			Timestamp:      time.Date(2026, 8, 1, 12, 0, i, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Append(%s): %v", typ, err)
		}
	}
	if err := l.Append(ctx, domain.Event{Type: domain.EventMessageReceived, ConversationID: "other"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := l.Recent(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].Type != domain.EventTurnCompleted {
		t.Errorf("events[0].Type = %s, want turn.completed", events[0].Type)
	}
	if events[2].Type != domain.EventMessageReceived {
		t.Errorf("events[2].Type = %s, want message.received", events[2].Type)
	}
	if string(events[0].Payload) != `{"n":1}` {
		t.Errorf("payload = %s", events[0].Payload)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp not round-tripped")
	}
}

func TestRecentLimit(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Append(ctx, domain.Event{Type: domain.EventMessageReceived, ConversationID: "c1"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := l.Recent(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestRecentUnknownConversation(t *testing.T) {
	l := newTestLog(t)

	events, err := l.Recent(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestAttachRecordsBusEvents(t *testing.T) {
	l := newTestLog(t)

	bus := eventbus.New(slog.Default())
	defer bus.Close()
	l.Attach(bus)

	bus.Publish(context.Background(), domain.Event{
		Type:           domain.EventHandoverRequested,
		ConversationID: "c1",
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		events, err := l.Recent(context.Background(), "c1", 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(events) == 1 && events[0].Type == domain.EventHandoverRequested {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("bus event never reached the log")
}
