package usecase

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"relay-ai/internal/domain"
)

// Conversation holds one conversation's message history, control-state record,
// and the last turn's feedback signals. Control-state mutations are serialized
// by the handover manager; the struct's own lock covers message access so
// pure reads stay safe from any goroutine.
type Conversation struct {
	mu       sync.RWMutex
	ID       string
	AgentID  string
	Status   domain.AgentStatus
	Msgs     []domain.Message
	LastRisk float64 // escalation risk from the previous turn's feedback

	// writerActive asserts the single-writer discipline on Status. Set only
	// while the per-conversation lock is held; a CAS failure is a bug.
	writerActive atomic.Bool
}

// updateStatus mutates the control-state record under the conversation's own
// lock so snapshot readers (Status, ShouldAIRespond, Summary) never observe a
// torn write. Callers must already hold the per-conversation write lock for
// cross-operation serialization.
func (c *Conversation) updateStatus(fn func(*domain.AgentStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.Status)
}

func (c *Conversation) lastRisk() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LastRisk
}

func (c *Conversation) setLastRisk(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastRisk = v
}

// NewConversation creates a conversation in the initial ai_active state.
func NewConversation(id, agentID, platform string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:      id,
		AgentID: agentID,
		Status: domain.AgentStatus{
			ConversationID: id,
			AgentType:      domain.AgentAI,
			State:          domain.StateAIActive,
			Platform:       platform,
			StartedAt:      now,
		},
	}
}

// AddMessage appends a message, stamping the timestamp if unset.
func (c *Conversation) AddMessage(msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.Msgs = append(c.Msgs, msg)
}

// Messages returns a copy of the message history.
func (c *Conversation) Messages() []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]domain.Message, len(c.Msgs))
	copy(cp, c.Msgs)
	return cp
}

// LastMessages returns a copy of the last n messages.
func (c *Conversation) LastMessages(n int) []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n > len(c.Msgs) {
		n = len(c.Msgs)
	}
	cp := make([]domain.Message, n)
	copy(cp, c.Msgs[len(c.Msgs)-n:])
	return cp
}

// MessageCount returns the number of stored messages.
func (c *Conversation) MessageCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Msgs)
}

// Summary generates the short human-readable digest transferred to a human
// agent on handover: message volume, elapsed time, and the latest customer
// message. Heuristic by design; a template is enough for an agent console.
func (c *Conversation) Summary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	lastUser := ""
	for i := len(c.Msgs) - 1; i >= 0; i-- {
		if c.Msgs[i].Role == domain.RoleUser {
			lastUser = c.Msgs[i].Content
			break
		}
	}
	if len(lastUser) > 140 {
		lastUser = lastUser[:140] + "…"
	}

	elapsed := time.Since(c.Status.StartedAt).Round(time.Second)
	var b strings.Builder
	fmt.Fprintf(&b, "%d messages over %s", len(c.Msgs), elapsed)
	if c.Status.AIResponseCount > 0 {
		fmt.Fprintf(&b, ", %d AI responses", c.Status.AIResponseCount)
	}
	if lastUser != "" {
		fmt.Fprintf(&b, ". Last customer message: %q", lastUser)
	}
	return b.String()
}

// ConversationStore keeps live conversations in memory, keyed by id.
type ConversationStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

// NewConversationStore creates an empty store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{convs: make(map[string]*Conversation)}
}

// GetOrCreate returns the conversation for id, creating it in ai_active state
// on the first message.
func (s *ConversationStore) GetOrCreate(id, agentID, platform string) *Conversation {
	s.mu.RLock()
	c, ok := s.convs[id]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.convs[id]; ok {
		return c
	}
	c = NewConversation(id, agentID, platform)
	s.convs[id] = c
	return c
}

// Get returns an existing conversation or ErrConversationNotFound.
func (s *ConversationStore) Get(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, domain.NewDomainError("ConversationStore.Get", domain.ErrConversationNotFound, id)
	}
	return c, nil
}

// Delete removes a conversation from the store.
func (s *ConversationStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
}

// Len returns the number of live conversations.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// NewID generates a ULID for turns and handover requests.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
