// Package invoke is the client-side invocation manager: it sends an
// encoded request, arms a timeout, retransmits the identical bytes up
// to a bound, and matches replies by invocation header.
package invoke

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtline/internal/booking"
	"github.com/codr1/courtline/internal/wire"
)

// ErrTimeout reports an exhausted retry budget. It is fatal to the
// call, not to the process: issuing a fresh call mints a new sequence
// number and starts over.
var ErrTimeout = errors.New("retry budget exhausted waiting for reply")

// errAttemptTimeout distinguishes one attempt's deadline from hard
// socket failures inside await.
var errAttemptTimeout = errors.New("attempt timed out")

const maxDatagram = 64 * 1024

// Conn is the datagram socket the client calls through, normally a
// *transport.Conn carrying the simulated duplication rate.
type Conn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Config controls the retransmission schedule.
type Config struct {
	// Timeout is the per-attempt reply deadline.
	Timeout time.Duration
	// MaxRetries is how many times the identical request is resent
	// after the first transmission.
	MaxRetries int
}

// Client issues invocations strictly sequentially: one outstanding
// call at a time, enforced by the mutex. Retransmissions reuse the
// original sequence number so the server's dedup cache recognizes
// them.
type Client struct {
	conn     Conn
	server   net.Addr
	clientID uint64
	timeout  time.Duration
	retries  int

	mu  sync.Mutex
	seq uint32
}

// NewClient creates a client with a fresh random identity.
func NewClient(conn Conn, server net.Addr, cfg Config) *Client {
	id := uuid.New()
	return &Client{
		conn:     conn,
		server:   server,
		clientID: binary.BigEndian.Uint64(id[:8]),
		timeout:  cfg.Timeout,
		retries:  cfg.MaxRetries,
	}
}

// ClientID returns the client's wire identity.
func (c *Client) ClientID() uint64 { return c.clientID }

// Close releases the underlying socket.
func (c *Client) Close() error { return c.conn.Close() }

// Call performs one invocation and returns the server's reply,
// whatever its status. ErrTimeout is returned once the retry budget is
// exhausted.
func (c *Client) Call(ctx context.Context, body wire.Body) (*wire.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callLocked(ctx, body)
}

func (c *Client) callLocked(ctx context.Context, body wire.Body) (*wire.Reply, error) {
	c.seq++
	h := wire.Header{ClientID: c.clientID, Seq: c.seq}
	data, err := wire.EncodeRequest(h, body)
	if err != nil {
		return nil, err
	}

	attempts := 1 + c.retries
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			log.Debug().
				Uint32("seq", h.Seq).
				Int("attempt", attempt+1).
				Str("op", body.Op().String()).
				Msg("Retransmitting request")
		}
		if _, err := c.conn.WriteTo(data, c.server); err != nil {
			return nil, err
		}

		reply, err := c.await(h, time.Now().Add(c.timeout))
		if err == nil {
			return reply, nil
		}
		if !errors.Is(err, errAttemptTimeout) {
			return nil, err
		}
	}
	return nil, ErrTimeout
}

// await reads until a reply matching h arrives or the deadline passes.
// Stale replies from earlier invocations and event pushes are skipped.
func (c *Client) await(h wire.Header, deadline time.Time) (*wire.Reply, error) {
	buf := make([]byte, maxDatagram)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, errAttemptTimeout
			}
			return nil, err
		}

		msg, err := wire.DecodeServerMessage(buf[:n])
		if err != nil {
			log.Debug().Err(err).Msg("Skipping undecodable datagram")
			continue
		}
		if msg.Reply == nil {
			// Event push arriving outside a monitor window; ignore.
			continue
		}
		if msg.Reply.ClientID != h.ClientID || msg.Reply.Seq != h.Seq {
			log.Debug().Uint32("got_seq", msg.Reply.Seq).Uint32("want_seq", h.Seq).Msg("Skipping stale reply")
			continue
		}
		reply := *msg.Reply
		reply.Payload = append([]byte(nil), msg.Reply.Payload...)
		return &reply, nil
	}
}

// Monitor subscribes to facility mutations and invokes onEvent for
// each pushed change until the window elapses or ctx is cancelled. The
// client mutex is held throughout: no other call can be issued while
// monitoring, matching the protocol's single-outstanding-call rule.
func (c *Client) Monitor(ctx context.Context, facility string, window time.Duration, onEvent func(booking.Event)) error {
	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	if seconds > math.MaxUint16 {
		seconds = math.MaxUint16
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.callLocked(ctx, wire.Monitor{Facility: facility, Seconds: uint16(seconds)})
	if err != nil {
		return err
	}
	if reply.Status != wire.StatusOK {
		return replyError(reply)
	}

	expiry := time.Now().Add(time.Duration(seconds) * time.Second)
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now()
		if !now.Before(expiry) {
			return nil
		}
		if err := c.conn.SetReadDeadline(expiry); err != nil {
			return err
		}
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return err
		}
		msg, err := wire.DecodeServerMessage(buf[:n])
		if err != nil || msg.Event == nil {
			continue
		}
		onEvent(*msg.Event)
	}
}

// replyError converts a non-OK reply into a readable error.
func replyError(r *wire.Reply) error {
	msg, err := wire.ParseErrorPayload(r.Payload)
	if err != nil {
		msg = "(unreadable error payload)"
	}
	return errors.New(r.Status.String() + ": " + msg)
}

// ReplyError exposes replyError for callers that inspect replies
// themselves.
func ReplyError(r *wire.Reply) error {
	if r.Status == wire.StatusOK {
		return nil
	}
	return replyError(r)
}
