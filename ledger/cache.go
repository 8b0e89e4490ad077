package ledger

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// cache provides a small in-memory cache with TTL for values that are
// expensive to refetch but only briefly valid.
type cache struct {
	// Recent blockhash cache.
	blockhash       string
	blockhashExpiry time.Time

	// Confirmed signature cache (signature -> struct{}). Only positive
	// results are cached; an unconfirmed signature may still confirm
	// later so a negative answer must always hit the network.
	confirmed map[string]cacheEntry

	ttl   time.Duration
	clock clock.Clock
	mu    sync.RWMutex
}

// maxConfirmedEntries caps the confirmed signature cache.
const maxConfirmedEntries = 100

// newCache creates a new cache.
func newCache(ttl time.Duration, clk clock.Clock) *cache {
	return &cache{
		confirmed: make(map[string]cacheEntry),
		ttl:       ttl,
		clock:     clk,
	}
}

// getBlockhash returns the cached recent blockhash if still valid.
func (c *cache) getBlockhash() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.blockhash != "" && c.clock.Now().Before(c.blockhashExpiry) {
		return c.blockhash, true
	}

	return "", false
}

// setBlockhash caches the recent blockhash.
func (c *cache) setBlockhash(blockhash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blockhash = blockhash
	c.blockhashExpiry = c.clock.Now().Add(c.ttl)
}

// isConfirmed returns whether the signature was recently seen as confirmed.
func (c *cache) isConfirmed(signature string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.confirmed[signature]
	if !ok {
		return false
	}

	return c.clock.Now().Before(entry.expiresAt)
}

// setConfirmed records a signature as confirmed.
func (c *cache) setConfirmed(signature string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.confirmed[signature] = cacheEntry{
		expiresAt: c.clock.Now().Add(c.ttl),
	}

	// Simple eviction: drop the entry closest to expiry once over cap.
	if len(c.confirmed) > maxConfirmedEntries {
		var (
			oldestSig  string
			oldestTime time.Time
			first      = true
		)
		for sig, entry := range c.confirmed {
			if first || entry.expiresAt.Before(oldestTime) {
				oldestTime = entry.expiresAt
				oldestSig = sig
				first = false
			}
		}
		delete(c.confirmed, oldestSig)
	}
}
