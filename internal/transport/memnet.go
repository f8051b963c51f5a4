package transport

import (
	"errors"
	"net"
	"sync"
	"time"
)

// MemNetwork is an in-process datagram network: every endpoint is a
// net.PacketConn backed by a buffered channel. It lets the client and
// server stacks run against each other in tests without touching real
// sockets.
type MemNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*MemConn
	next      int
}

// NewMemNetwork creates an empty in-memory network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{endpoints: make(map[string]*MemConn)}
}

// Endpoint registers a new addressable endpoint on the network.
func (n *MemNetwork) Endpoint() *MemConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	addr := memAddr{id: n.next}
	c := &MemConn{
		net:   n,
		addr:  addr,
		inbox: make(chan memDatagram, 128),
	}
	n.endpoints[addr.String()] = c
	return c
}

// deliver holds the network lock through the channel send so an
// endpoint's inbox can never be closed mid-send.
func (n *MemNetwork) deliver(to net.Addr, d memDatagram) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	dst, ok := n.endpoints[to.String()]
	if !ok {
		return errors.New("memnet: no such endpoint " + to.String())
	}
	select {
	case dst.inbox <- d:
		return nil
	default:
		// A full inbox behaves like a congested network: the datagram
		// is silently lost, which is what UDP would do.
		return nil
	}
}

func (n *MemNetwork) remove(addr net.Addr, inbox chan memDatagram) {
	n.mu.Lock()
	delete(n.endpoints, addr.String())
	close(inbox)
	n.mu.Unlock()
}

type memDatagram struct {
	from net.Addr
	data []byte
}

type memAddr struct {
	id int
}

func (memAddr) Network() string { return "mem" }
func (a memAddr) String() string {
	return "mem:" + itoa(a.id)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	pos := len(b)
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(b[pos:])
}

// MemConn implements net.PacketConn over channels.
type MemConn struct {
	net   *MemNetwork
	addr  memAddr
	inbox chan memDatagram

	mu       sync.Mutex
	deadline time.Time
	closed   bool
}

var errClosed = errors.New("memnet: connection closed")

// errDeadline satisfies net.Error so callers treat it like a socket
// read timeout.
type errDeadline struct{}

func (errDeadline) Error() string   { return "memnet: read deadline exceeded" }
func (errDeadline) Timeout() bool   { return true }
func (errDeadline) Temporary() bool { return true }

func (c *MemConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, nil, errClosed
	}

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil, errDeadline{}
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case d, ok := <-c.inbox:
		if !ok {
			return 0, nil, errClosed
		}
		n := copy(p, d.data)
		return n, d.from, nil
	case <-timeout:
		return 0, nil, errDeadline{}
	}
}

func (c *MemConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, errClosed
	}
	data := make([]byte, len(p))
	copy(data, p)
	if err := c.net.deliver(addr, memDatagram{from: c.addr, data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *MemConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.net.remove(c.addr, c.inbox)
	return nil
}

func (c *MemConn) LocalAddr() net.Addr { return c.addr }

func (c *MemConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *MemConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *MemConn) SetWriteDeadline(time.Time) error { return nil }
