package server

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtline/internal/wire"
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type dedupKey struct {
	clientID uint64
	seq      uint32
}

type dedupEntry struct {
	reply    []byte
	inFlight bool
	storedAt time.Time
}

// DedupCache remembers the encoded reply for each non-idempotent
// request so retransmissions are answered without re-executing the
// operation. Cached error replies are replayed the same as successes.
type DedupCache struct {
	clock     Clock
	retention time.Duration

	mu      sync.Mutex
	entries map[dedupKey]dedupEntry
}

// NewDedupCache creates a cache whose entries live for at least the
// retention window. Pick a retention that comfortably exceeds the
// client's full retry budget (timeout * max retries). A nil clock
// means system time.
func NewDedupCache(retention time.Duration, clock Clock) *DedupCache {
	if clock == nil {
		clock = realClock{}
	}
	return &DedupCache{
		clock:     clock,
		retention: retention,
		entries:   make(map[dedupKey]dedupEntry),
	}
}

// Outcome of Begin for one incoming non-idempotent request.
type Outcome int

const (
	// Execute: this worker owns the invocation and must Store a reply.
	Execute Outcome = iota
	// Replay: a finished reply is cached; resend it verbatim.
	Replay
	// InFlight: another worker is executing the same invocation right
	// now; drop this duplicate and let the client's retry pick up the
	// cached reply.
	InFlight
)

// Begin atomically claims the invocation. Exactly one concurrent
// caller per (clientID, seq) gets Execute; that caller must follow up
// with Store.
func (c *DedupCache) Begin(h wire.Header) ([]byte, Outcome) {
	k := dedupKey{clientID: h.ClientID, seq: h.Seq}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	switch {
	case !ok:
		c.entries[k] = dedupEntry{inFlight: true, storedAt: c.clock.Now()}
		return nil, Execute
	case e.inFlight:
		return nil, InFlight
	default:
		return e.reply, Replay
	}
}

// Store caches the encoded reply under the invocation's dedup key and
// releases the in-flight claim.
func (c *DedupCache) Store(h wire.Header, reply []byte) {
	c.mu.Lock()
	c.entries[dedupKey{clientID: h.ClientID, seq: h.Seq}] = dedupEntry{
		reply:    reply,
		storedAt: c.clock.Now(),
	}
	c.mu.Unlock()
}

// Purge evicts finished entries older than the retention window and
// returns how many were removed. By then the client has stopped
// retrying.
func (c *DedupCache) Purge() int {
	cutoff := c.clock.Now().Add(-c.retention)

	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if !e.inFlight && e.storedAt.Before(cutoff) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Stale reply cache entries purged")
	}
	return removed
}

// Len reports the number of cached invocations.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
