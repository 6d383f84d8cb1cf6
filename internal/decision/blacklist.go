// internal/decision/blacklist.go
package decision

import (
	"sync"
	"time"
)

// Blacklist temporarily excludes models that just failed from random
// selection. Entries are independently time-boxed, so concurrent callers
// only ever observe a model as blacklisted or not; the state is advisory
// and never affects correctness.
type Blacklist struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

func NewBlacklist(ttl time.Duration) *Blacklist {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Blacklist{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

func (b *Blacklist) Add(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[model] = time.Now().Add(b.ttl)
}

func (b *Blacklist) Contains(model string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	expires, ok := b.entries[model]
	if !ok {
		return false
	}
	if time.Now().After(expires) {
		delete(b.entries, model)
		return false
	}
	return true
}
