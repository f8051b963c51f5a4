// Package transport wraps a datagram socket with configurable packet
// loss and duplication, simulating an unreliable network on the send
// path. Payload bytes are never touched and no reordering is
// introduced beyond what duplication naturally causes.
package transport

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtline/internal/metrics"
)

// Config holds the simulated fault rates, each in [0, 1] and applied
// independently per outbound datagram.
type Config struct {
	DropRate      float64
	DuplicateRate float64
	// Rand is used for fault rolls; nil means a time-seeded source.
	Rand *rand.Rand
}

// Conn is a lossy, duplicating wrapper around a net.PacketConn.
type Conn struct {
	pc   net.PacketConn
	drop float64
	dup  float64

	mu  sync.Mutex
	rng *rand.Rand
}

// New wraps pc with the configured fault rates.
func New(pc net.PacketConn, cfg Config) *Conn {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Conn{pc: pc, drop: cfg.DropRate, dup: cfg.DuplicateRate, rng: rng}
}

// WriteTo sends the datagram to addr, possibly dropping it or sending
// 1+Geometric(p) copies. A dropped datagram is reported as sent so the
// caller behaves exactly as it would against a lossy network.
func (c *Conn) WriteTo(b []byte, addr net.Addr) (int, error) {
	// maxCopies bounds the geometric tail so duplicate_rate close to 1
	// cannot flood the peer.
	const maxCopies = 8

	c.mu.Lock()
	dropped := c.drop > 0 && c.rng.Float64() < c.drop
	copies := 1
	for copies < maxCopies && c.dup > 0 && c.rng.Float64() < c.dup {
		copies++
	}
	c.mu.Unlock()

	if dropped {
		metrics.PacketsDropped.Inc()
		log.Debug().Str("addr", addr.String()).Int("bytes", len(b)).Msg("Simulated packet drop")
		return len(b), nil
	}

	n, err := c.pc.WriteTo(b, addr)
	if err != nil {
		return n, err
	}
	for i := 1; i < copies; i++ {
		metrics.PacketsDuplicated.Inc()
		log.Debug().Str("addr", addr.String()).Msg("Simulated packet duplicate")
		if _, err := c.pc.WriteTo(b, addr); err != nil {
			// The duplicate is best-effort; the original went out.
			log.Debug().Err(err).Msg("Duplicate send failed")
			break
		}
	}
	return n, nil
}

// ReadFrom passes through to the underlying socket. Loss is simulated
// on the send path only, so receives are faithful.
func (c *Conn) ReadFrom(b []byte) (int, net.Addr, error) {
	return c.pc.ReadFrom(b)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.pc.SetReadDeadline(t)
}

func (c *Conn) LocalAddr() net.Addr { return c.pc.LocalAddr() }

func (c *Conn) Close() error { return c.pc.Close() }
