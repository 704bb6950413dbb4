package quotecache

import "sync"

// -----------------------------------------------------------------------------
// QuoteCache holds the latest quote object per instrument (spec §4.4). It is
// unbounded in instrument count but holds exactly one entry per instrument.
// Update notifies a registered callback (normally the delivery engine) after
// the lock is released, so the callback is free to re-enter other
// components without risking a deadlock on the cache's own lock.
// -----------------------------------------------------------------------------

type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]map[string]interface{}

	onUpdate func(instrumentID string)
}

// -----------------------------------------------------------------------------

func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		quotes: make(map[string]map[string]interface{}),
	}
}

// -----------------------------------------------------------------------------

// OnUpdate registers the callback invoked after every Update. Only one
// callback is supported; call before the cache starts receiving ticks.
func (c *QuoteCache) OnUpdate(fn func(instrumentID string)) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Update atomically replaces the latest value for instrumentID, then
// notifies the registered callback so any peek parked on that instrument
// can be re-evaluated (spec §4.4).
func (c *QuoteCache) Update(instrumentID string, q map[string]interface{}) {
	c.mu.Lock()
	c.quotes[instrumentID] = q
	cb := c.onUpdate
	c.mu.Unlock()

	if cb != nil {
		cb(instrumentID)
	}
}

// -----------------------------------------------------------------------------

// Snapshot returns the last seen quote for instrumentID, if any.
func (c *QuoteCache) Snapshot(instrumentID string) (map[string]interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[instrumentID]
	return q, ok
}
