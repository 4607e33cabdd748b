package ask

import "sync"

// Conversation holds the id of the active backend conversation. The empty id means none has
// been created yet.
type Conversation struct {
	mu sync.RWMutex
	id string
}

func (c *Conversation) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Conversation) Set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

func (c *Conversation) Clear() { c.Set("") }
