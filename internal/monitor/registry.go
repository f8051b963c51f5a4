// Package monitor tracks facility subscriptions and pushes change
// events to monitoring clients until each subscription expires.
package monitor

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtline/internal/booking"
	"github.com/codr1/courtline/internal/metrics"
	"github.com/codr1/courtline/internal/wire"
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Sender is the outbound half of the datagram socket. Pushes ride the
// same simulated transport as replies, so they are subject to the same
// loss and duplication.
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

type subscription struct {
	addr   net.Addr
	expiry time.Time
}

// Registry holds the active subscriptions per facility.
type Registry struct {
	sender Sender
	clock  Clock

	mu   sync.Mutex
	subs map[string][]subscription
}

// NewRegistry creates a registry pushing through sender. A nil clock
// means system time.
func NewRegistry(sender Sender, clock Clock) *Registry {
	if clock == nil {
		clock = realClock{}
	}
	return &Registry{
		sender: sender,
		clock:  clock,
		subs:   make(map[string][]subscription),
	}
}

// Subscribe registers addr to observe facility mutations for the given
// window. Facility existence is the dispatcher's concern; the registry
// accepts any name.
func (r *Registry) Subscribe(facility string, addr net.Addr, window time.Duration) {
	expiry := r.clock.Now().Add(window)

	r.mu.Lock()
	r.subs[facility] = append(r.subs[facility], subscription{addr: addr, expiry: expiry})
	total := r.count()
	r.mu.Unlock()

	metrics.ActiveSubscriptions.Set(float64(total))
	log.Info().
		Str("facility", facility).
		Str("addr", addr.String()).
		Dur("window", window).
		Msg("Monitor subscription registered")
}

// Publish implements booking.EventSink. The engine calls it while
// holding the mutated facility's lock, so every subscriber observes
// events in the order mutations took effect. Pushes are fire-and-
// forget; no acknowledgement is expected.
func (r *Registry) Publish(ev booking.Event) {
	data := wire.EncodeEvent(ev)
	now := r.clock.Now()

	r.mu.Lock()
	live := r.subs[ev.Facility][:0]
	for _, sub := range r.subs[ev.Facility] {
		if !sub.expiry.After(now) {
			continue
		}
		live = append(live, sub)
	}
	if len(live) == 0 {
		delete(r.subs, ev.Facility)
	} else {
		r.subs[ev.Facility] = live
	}
	targets := make([]net.Addr, len(live))
	for i, sub := range live {
		targets[i] = sub.addr
	}
	r.mu.Unlock()

	for _, addr := range targets {
		if _, err := r.sender.WriteTo(data, addr); err != nil {
			log.Warn().Err(err).Str("addr", addr.String()).Msg("Monitor push failed")
			continue
		}
		metrics.MonitorPushes.Inc()
	}
	if len(targets) > 0 {
		log.Debug().
			Str("facility", ev.Facility).
			Str("kind", ev.Kind.String()).
			Int("subscribers", len(targets)).
			Msg("Mutation event pushed")
	}
}

// Purge drops expired subscriptions and returns how many were removed.
// Run it periodically; Publish also removes expired entries lazily.
func (r *Registry) Purge() int {
	now := r.clock.Now()

	r.mu.Lock()
	removed := 0
	for facility, subs := range r.subs {
		live := subs[:0]
		for _, sub := range subs {
			if sub.expiry.After(now) {
				live = append(live, sub)
			} else {
				removed++
			}
		}
		if len(live) == 0 {
			delete(r.subs, facility)
		} else {
			r.subs[facility] = live
		}
	}
	total := r.count()
	r.mu.Unlock()

	metrics.ActiveSubscriptions.Set(float64(total))
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Expired monitor subscriptions purged")
	}
	return removed
}

// count sums live subscriptions; callers hold r.mu.
func (r *Registry) count() int {
	n := 0
	for _, subs := range r.subs {
		n += len(subs)
	}
	return n
}
