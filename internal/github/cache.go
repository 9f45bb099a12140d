package github

import (
	"sync"
	"time"
)

type cachedProfile struct {
	user     *User
	cachedAt time.Time
}

// ProfileCache stores user profiles in memory with automatic expiration.
// Profile fetches are the most repeated call in a run (one per login across
// several components), so they are cached process-wide.
type ProfileCache struct {
	mu    sync.RWMutex
	users map[string]cachedProfile // lowercase login → profile
	ttl   time.Duration
}

// NewProfileCache creates a profile cache.
func NewProfileCache(ttl time.Duration) *ProfileCache {
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return &ProfileCache{
		users: make(map[string]cachedProfile),
		ttl:   ttl,
	}
}

// Update adds or refreshes a profile in the cache.
func (c *ProfileCache) Update(login string, user *User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[login] = cachedProfile{user: user, cachedAt: time.Now()}
}

// Get retrieves a profile, reporting a miss when absent or expired.
func (c *ProfileCache) Get(login string) (*User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.users[login]
	if !exists || time.Since(entry.cachedAt) > c.ttl {
		return nil, false
	}
	return entry.user, true
}

// Count returns the number of cached profiles.
func (c *ProfileCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}
