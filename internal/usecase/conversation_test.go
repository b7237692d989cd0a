package usecase

import (
	"errors"
	"strings"
	"testing"

	"relay-ai/internal/domain"
)

func TestConversationStoreLifecycle(t *testing.T) {
	s := NewConversationStore()

	c1 := s.GetOrCreate("c1", "agent-1", "web")
	if c1.Status.State != domain.StateAIActive {
		t.Errorf("initial state = %s, want ai_active", c1.Status.State)
	}
	if again := s.GetOrCreate("c1", "agent-1", "web"); again != c1 {
		t.Error("GetOrCreate returned a new record for an existing id")
	}

	got, err := s.Get("c1")
	if err != nil || got != c1 {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := s.Get("missing"); !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("Get missing = %v, want ErrConversationNotFound", err)
	}

	s.Delete("c1")
	if s.Len() != 0 {
		t.Errorf("Len = %d after delete, want 0", s.Len())
	}
}

func TestLastMessagesWindow(t *testing.T) {
	c := NewConversation("c1", "agent-1", "web")
	for _, text := range []string{"one", "two", "three", "four"} {
		c.AddMessage(domain.Message{Role: domain.RoleUser, Content: text})
	}

	last := c.LastMessages(2)
	if len(last) != 2 || last[0].Content != "three" || last[1].Content != "four" {
		t.Errorf("LastMessages(2) = %+v", last)
	}
	if got := c.LastMessages(10); len(got) != 4 {
		t.Errorf("LastMessages(10) = %d messages, want all 4", len(got))
	}
}

func TestSummaryMentionsLastCustomerMessage(t *testing.T) {
	c := NewConversation("c1", "agent-1", "web")
	c.AddMessage(domain.Message{Role: domain.RoleUser, Content: "my order never arrived"})
	c.AddMessage(domain.Message{Role: domain.RoleAssistant, Content: "let me check"})
	c.Status.AIResponseCount = 1

	sum := c.Summary()
	if !strings.Contains(sum, "2 messages") {
		t.Errorf("summary = %q, want message count", sum)
	}
	if !strings.Contains(sum, "my order never arrived") {
		t.Errorf("summary = %q, want last customer message", sum)
	}
	if !strings.Contains(sum, "1 AI responses") {
		t.Errorf("summary = %q, want AI response count", sum)
	}
}

func TestNewIDIsSortableAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != 26 {
			t.Fatalf("id %q length = %d, want 26", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
