package orchestrator

import (
	"context"
	"sync"
	"time"
)

// lockPollInterval mirrors internal/sessions/write_lock.go's SessionLocker
// poll interval for context-aware lock acquisition.
const lockPollInterval = 5 * time.Millisecond

// conversationLocks serializes message appends per conversation so that two
// concurrent chat requests on the same conversation cannot interleave their
// writes. Adapted from internal/sessions/write_lock.go's SessionLocker: the
// same poll-until-acquired, context-aware shape, narrowed to the single
// per-conversation mutual exclusion this orchestrator needs rather than the
// locker's general session-locking facility (TTL locks, holders, cleanup).
type conversationLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{held: make(map[string]bool)}
}

// acquire blocks until the conversation's lock is free or ctx is done. The
// returned release function must be called exactly once to free the lock.
func (c *conversationLocks) acquire(ctx context.Context, conversationID string) (func(), error) {
	for {
		c.mu.Lock()
		if !c.held[conversationID] {
			c.held[conversationID] = true
			c.mu.Unlock()
			return func() {
				c.mu.Lock()
				delete(c.held, conversationID)
				c.mu.Unlock()
			}, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}
