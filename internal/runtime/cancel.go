package runtime

import (
	"sync"

	"github.com/google/uuid"
)

// CancelRegistry holds pending cancellation flags keyed by tenant and
// conversation. A cancel intent raises the flag; a live run consumes it
// before each hop and stops with status cancelled. Consuming clears the
// flag so a later run in the same conversation proceeds normally.
type CancelRegistry struct {
	mu    sync.Mutex
	flags map[cancelKey]struct{}
}

type cancelKey struct {
	tenantID        uuid.UUID
	conversationRef string
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{flags: make(map[cancelKey]struct{})}
}

// Request raises the cancellation flag for a conversation.
func (c *CancelRegistry) Request(tenantID uuid.UUID, conversationRef string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags[cancelKey{tenantID, conversationRef}] = struct{}{}
}

// Consume atomically checks and clears the flag. It returns true at most
// once per Request.
func (c *CancelRegistry) Consume(tenantID uuid.UUID, conversationRef string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cancelKey{tenantID, conversationRef}
	if _, ok := c.flags[key]; !ok {
		return false
	}
	delete(c.flags, key)
	return true
}

// Pending reports whether a flag is raised without clearing it.
func (c *CancelRegistry) Pending(tenantID uuid.UUID, conversationRef string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flags[cancelKey{tenantID, conversationRef}]
	return ok
}
