package catalogue

import (
	"sort"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// InMemoryCatalogue maps raw upstream instrument identifiers to a
// display-facing name and back (spec §6 "Catalogue interface"). Registration
// is idempotent; a raw id registered more than once keeps its first display
// name unless explicitly overwritten.
// -----------------------------------------------------------------------------

type InMemoryCatalogue struct {
	mu      sync.RWMutex
	rawToID map[string]string
	idToRaw map[string]string
}

// -----------------------------------------------------------------------------

func NewInMemoryCatalogue() *InMemoryCatalogue {
	return &InMemoryCatalogue{
		rawToID: make(map[string]string),
		idToRaw: make(map[string]string),
	}
}

// -----------------------------------------------------------------------------

func (c *InMemoryCatalogue) Register(raw, display string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.rawToID[raw]; ok && existing == display {
		return
	}
	c.rawToID[raw] = display
	c.idToRaw[display] = raw
}

// -----------------------------------------------------------------------------

func (c *InMemoryCatalogue) Display(raw string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.rawToID[raw]
	return d, ok
}

// -----------------------------------------------------------------------------

func (c *InMemoryCatalogue) Raw(display string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.idToRaw[display]
	return r, ok
}

// -----------------------------------------------------------------------------

func (c *InMemoryCatalogue) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rawToID))
	for raw := range c.rawToID {
		out = append(out, raw)
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------

// Search does a case-insensitive substring match over both raw ids and
// display names.
func (c *InMemoryCatalogue) Search(query string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for raw, display := range c.rawToID {
		if strings.Contains(strings.ToLower(raw), q) || strings.Contains(strings.ToLower(display), q) {
			if _, dup := seen[raw]; !dup {
				seen[raw] = struct{}{}
				out = append(out, raw)
			}
		}
	}
	sort.Strings(out)
	return out
}
