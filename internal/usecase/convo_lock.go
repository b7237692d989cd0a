package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ConversationLocker provides operation-level mutual exclusion per
// conversation id. Trigger evaluation, intervention detection, and
// accept/release transitions on the same conversation must never race;
// independent conversations proceed fully in parallel.
type ConversationLocker struct {
	mu    sync.Mutex
	locks map[string]*convMutex
}

type convMutex struct {
	mu       sync.Mutex
	refCount int
}

// NewConversationLocker creates a new conversation locker.
func NewConversationLocker() *ConversationLocker {
	return &ConversationLocker{
		locks: make(map[string]*convMutex),
	}
}

// Lock acquires the lock for the given conversation ID. It blocks until the
// lock is acquired or the context is cancelled. Returns an unlock function
// that MUST be called when the operation is complete.
func (cl *ConversationLocker) Lock(ctx context.Context, conversationID string) (unlock func(), err error) {
	cl.mu.Lock()
	cm, ok := cl.locks[conversationID]
	if !ok {
		cm = &convMutex{}
		cl.locks[conversationID] = cm
	}
	cm.refCount++
	cl.mu.Unlock()

	// Acquire the per-conversation mutex with cancellation support.
	acquired := make(chan struct{})
	go func() {
		cm.mu.Lock()
		close(acquired)
	}()

	release := func() {
		cm.mu.Unlock()
		cl.mu.Lock()
		cm.refCount--
		if cm.refCount == 0 {
			delete(cl.locks, conversationID)
		}
		cl.mu.Unlock()
	}

	select {
	case <-acquired:
		return release, nil

	case <-ctx.Done():
		// Context cancelled before the lock was acquired. Wait for the
		// acquiring goroutine and immediately release so the lock is never
		// held by an abandoned operation.
		go func() {
			<-acquired
			release()
		}()
		return nil, fmt.Errorf("conversation lock: %w", ctx.Err())
	}
}

// ActiveCount returns the number of conversations with active or pending
// locks. Intended for testing.
func (cl *ConversationLocker) ActiveCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.locks)
}
