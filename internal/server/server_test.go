package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codr1/courtline/internal/booking"
	"github.com/codr1/courtline/internal/monitor"
	"github.com/codr1/courtline/internal/transport"
	"github.com/codr1/courtline/internal/wire"
)

func mustUUID(t *testing.T) uuid.UUID {
	t.Helper()
	return uuid.New()
}

func encodeReq(t *testing.T, h wire.Header, b wire.Body) []byte {
	t.Helper()
	data, err := wire.EncodeRequest(h, b)
	require.NoError(t, err)
	return data
}

// runNetwork wires a full server over an in-memory network for tests
// that exercise the receive loop itself.
type runNetwork struct {
	ctx        context.Context
	cancel     context.CancelFunc
	server     *Server
	serverConn *transport.MemConn
	client     *transport.MemConn
}

func newRunNetwork(t *testing.T) *runNetwork {
	t.Helper()
	mem := transport.NewMemNetwork()
	serverConn := mem.Endpoint()
	client := mem.Endpoint()

	registry := monitor.NewRegistry(serverConn, nil)
	engine := booking.NewEngine([]string{"Room101", "Gym"}, registry)
	srv := New(serverConn, engine, registry, NewDedupCache(time.Minute, nil), 2)

	ctx, cancel := context.WithCancel(context.Background())
	return &runNetwork{ctx: ctx, cancel: cancel, server: srv, serverConn: serverConn, client: client}
}

func (n *runNetwork) close() {
	n.cancel()
	_ = n.client.Close()
}

// sentDatagram is one WriteTo recorded by recordConn.
type sentDatagram struct {
	data []byte
	addr net.Addr
}

// recordConn records every outbound datagram. ReadFrom is never used
// when tests drive handle directly.
type recordConn struct {
	mu   sync.Mutex
	sent []sentDatagram
}

func (c *recordConn) ReadFrom([]byte) (int, net.Addr, error) {
	select {}
}

func (c *recordConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	data := make([]byte, len(b))
	copy(data, b)
	c.mu.Lock()
	c.sent = append(c.sent, sentDatagram{data: data, addr: addr})
	c.mu.Unlock()
	return len(b), nil
}

func (c *recordConn) Close() error { return nil }

func (c *recordConn) take() []sentDatagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent
	c.sent = nil
	return out
}

func newTestServer(t *testing.T, cache *DedupCache) (*Server, *recordConn) {
	t.Helper()
	conn := &recordConn{}
	registry := monitor.NewRegistry(conn, nil)
	engine := booking.NewEngine([]string{"Room101", "Gym"}, registry)
	return New(conn, engine, registry, cache, 1), conn
}

func clientAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// dispatch runs one encoded request through the server and returns the
// decoded replies it produced.
func dispatch(t *testing.T, s *Server, conn *recordConn, data []byte, from net.Addr) []wire.Reply {
	t.Helper()
	s.handle(datagram{data: data, addr: from})
	var replies []wire.Reply
	for _, d := range conn.take() {
		msg, err := wire.DecodeServerMessage(d.data)
		require.NoError(t, err)
		if msg.Reply != nil {
			assert.Equal(t, from.String(), d.addr.String())
			replies = append(replies, *msg.Reply)
		}
	}
	return replies
}

func mondaySlot(startHour, endHour uint8) booking.Interval {
	return booking.Interval{
		Start: booking.TimePoint{Day: booking.Monday, Hour: startHour},
		End:   booking.TimePoint{Day: booking.Monday, Hour: endHour},
	}
}

func TestServerBookThenQuery(t *testing.T) {
	s, conn := newTestServer(t, nil)
	from := clientAddr(4000)

	h := wire.Header{ClientID: 11, Seq: 1}
	replies := dispatch(t, s, conn, encodeReq(t, h, wire.Book{Facility: "Room101", Interval: mondaySlot(9, 10)}), from)
	require.Len(t, replies, 1)
	require.Equal(t, wire.StatusOK, replies[0].Status)
	assert.Equal(t, h, replies[0].Header)
	id, err := wire.ParseBookingIDPayload(replies[0].Payload)
	require.NoError(t, err)

	h.Seq = 2
	replies = dispatch(t, s, conn, encodeReq(t, h, wire.QueryAvailability{Facility: "Room101", Days: []booking.Day{booking.Monday}}), from)
	require.Len(t, replies, 1)
	require.Equal(t, wire.StatusOK, replies[0].Status)
	days, err := wire.ParseAvailabilityPayload(replies[0].Payload)
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Len(t, days[0].Booked, 1)
	assert.Equal(t, id, days[0].Booked[0].BookingID)
	assert.Equal(t, mondaySlot(9, 10), days[0].Booked[0].Interval)
}

func TestServerDomainErrorsMapToStatuses(t *testing.T) {
	s, conn := newTestServer(t, nil)
	from := clientAddr(4001)
	h := wire.Header{ClientID: 12, Seq: 1}

	cases := []struct {
		name string
		body wire.Body
		want wire.Status
	}{
		{"unknown facility", wire.Book{Facility: "Pool", Interval: mondaySlot(9, 10)}, wire.StatusFacilityNotFound},
		{"inverted interval", wire.Book{Facility: "Gym", Interval: mondaySlot(10, 9)}, wire.StatusInvalidInterval},
		{"unknown booking", wire.Shift{BookingID: mustUUID(t), OffsetMinutes: 30}, wire.StatusBookingNotFound},
		{"empty day list", wire.QueryAvailability{Facility: "Gym"}, wire.StatusInvalidRequest},
		{"zero monitor window", wire.Monitor{Facility: "Gym", Seconds: 0}, wire.StatusInvalidRequest},
		{"monitor unknown facility", wire.Monitor{Facility: "Pool", Seconds: 10}, wire.StatusFacilityNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.Seq++
			replies := dispatch(t, s, conn, encodeReq(t, h, tc.body), from)
			require.Len(t, replies, 1)
			assert.Equal(t, tc.want, replies[0].Status)
			msg, err := wire.ParseErrorPayload(replies[0].Payload)
			require.NoError(t, err)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestServerDeduplicatesNonIdempotentRequests(t *testing.T) {
	cache := NewDedupCache(time.Minute, newMockClock())
	s, conn := newTestServer(t, cache)
	from := clientAddr(4002)

	data := encodeReq(t, wire.Header{ClientID: 13, Seq: 1}, wire.Book{Facility: "Gym", Interval: mondaySlot(9, 10)})

	first := dispatch(t, s, conn, data, from)
	require.Len(t, first, 1)
	require.Equal(t, wire.StatusOK, first[0].Status)

	// The retransmitted datagram is answered from the cache with the
	// exact bytes of the original reply, and no second booking is made.
	second := dispatch(t, s, conn, data, from)
	require.Len(t, second, 1)
	assert.Equal(t, first[0], second[0])

	query := encodeReq(t, wire.Header{ClientID: 13, Seq: 2}, wire.QueryAvailability{Facility: "Gym", Days: []booking.Day{booking.Monday}})
	replies := dispatch(t, s, conn, query, from)
	require.Len(t, replies, 1)
	days, err := wire.ParseAvailabilityPayload(replies[0].Payload)
	require.NoError(t, err)
	assert.Len(t, days[0].Booked, 1)
}

func TestServerErrorRepliesAreCachedToo(t *testing.T) {
	cache := NewDedupCache(time.Minute, newMockClock())
	s, conn := newTestServer(t, cache)
	from := clientAddr(4003)

	ok := encodeReq(t, wire.Header{ClientID: 14, Seq: 1}, wire.Book{Facility: "Gym", Interval: mondaySlot(9, 10)})
	require.Equal(t, wire.StatusOK, dispatch(t, s, conn, ok, from)[0].Status)

	clash := encodeReq(t, wire.Header{ClientID: 14, Seq: 2}, wire.Book{Facility: "Gym", Interval: mondaySlot(9, 10)})
	first := dispatch(t, s, conn, clash, from)
	require.Equal(t, wire.StatusOverlap, first[0].Status)

	second := dispatch(t, s, conn, clash, from)
	assert.Equal(t, first[0], second[0])
}

func TestServerWithoutCacheReExecutesDuplicates(t *testing.T) {
	s, conn := newTestServer(t, nil)
	from := clientAddr(4004)

	data := encodeReq(t, wire.Header{ClientID: 15, Seq: 1}, wire.Book{Facility: "Gym", Interval: mondaySlot(9, 10)})

	require.Equal(t, wire.StatusOK, dispatch(t, s, conn, data, from)[0].Status)
	// At-least-once semantics: the duplicate re-runs and now collides
	// with the booking its first delivery created.
	assert.Equal(t, wire.StatusOverlap, dispatch(t, s, conn, data, from)[0].Status)
}

func TestServerIdempotentRequestsBypassCache(t *testing.T) {
	cache := NewDedupCache(time.Minute, newMockClock())
	s, conn := newTestServer(t, cache)
	from := clientAddr(4005)

	data := encodeReq(t, wire.Header{ClientID: 16, Seq: 1}, wire.QueryAvailability{Facility: "Gym", Days: []booking.Day{booking.Monday}})
	dispatch(t, s, conn, data, from)
	dispatch(t, s, conn, data, from)
	assert.Equal(t, 0, cache.Len())
}

func TestServerRejectsMalformedDatagrams(t *testing.T) {
	s, conn := newTestServer(t, nil)
	from := clientAddr(4006)

	// Readable header, garbage body: addressed error reply.
	data := encodeReq(t, wire.Header{ClientID: 17, Seq: 1}, wire.Cancel{BookingID: mustUUID(t)})
	data[12] = 0x7F
	replies := dispatch(t, s, conn, data, from)
	require.Len(t, replies, 1)
	assert.Equal(t, wire.StatusMalformed, replies[0].Status)
	assert.Equal(t, wire.Header{ClientID: 17, Seq: 1}, replies[0].Header)

	// Too short for even a header: dropped silently.
	s.handle(datagram{data: []byte{1, 2, 3}, addr: from})
	assert.Empty(t, conn.take())
}

func TestServerPushesEventsToSubscribers(t *testing.T) {
	s, conn := newTestServer(t, nil)
	watcher := clientAddr(5000)
	booker := clientAddr(5001)

	sub := encodeReq(t, wire.Header{ClientID: 18, Seq: 1}, wire.Monitor{Facility: "Room101", Seconds: 60})
	replies := dispatch(t, s, conn, sub, watcher)
	require.Len(t, replies, 1)
	require.Equal(t, wire.StatusOK, replies[0].Status)
	secs, err := wire.ParseMonitorPayload(replies[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(60), secs)

	s.handle(datagram{
		data: encodeReq(t, wire.Header{ClientID: 19, Seq: 1}, wire.Book{Facility: "Room101", Interval: mondaySlot(9, 10)}),
		addr: booker,
	})

	var events []booking.Event
	for _, d := range conn.take() {
		msg, err := wire.DecodeServerMessage(d.data)
		require.NoError(t, err)
		if msg.Event != nil {
			assert.Equal(t, watcher.String(), d.addr.String())
			events = append(events, *msg.Event)
		}
	}
	require.Len(t, events, 1)
	assert.Equal(t, booking.EventCreated, events[0].Kind)
	assert.Equal(t, "Room101", events[0].Facility)
	assert.Equal(t, mondaySlot(9, 10), events[0].Interval)

	// Mutations of other facilities do not reach the subscriber.
	s.handle(datagram{
		data: encodeReq(t, wire.Header{ClientID: 19, Seq: 2}, wire.Book{Facility: "Gym", Interval: mondaySlot(9, 10)}),
		addr: booker,
	})
	for _, d := range conn.take() {
		msg, err := wire.DecodeServerMessage(d.data)
		require.NoError(t, err)
		assert.Nil(t, msg.Event)
	}
}

func TestServerRunStopsOnContextCancel(t *testing.T) {
	network := newRunNetwork(t)
	defer network.close()

	errCh := make(chan error, 1)
	go func() { errCh <- network.server.Run(network.ctx) }()

	// A request served end to end proves the loop is up.
	req := encodeReq(t, wire.Header{ClientID: 20, Seq: 1}, wire.QueryAvailability{Facility: "Gym", Days: []booking.Day{booking.Monday}})
	_, err := network.client.WriteTo(req, network.serverConn.LocalAddr())
	require.NoError(t, err)

	buf := make([]byte, maxDatagram)
	require.NoError(t, network.client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := network.client.ReadFrom(buf)
	require.NoError(t, err)
	msg, err := wire.DecodeServerMessage(buf[:n])
	require.NoError(t, err)
	require.NotNil(t, msg.Reply)
	assert.Equal(t, wire.StatusOK, msg.Reply.Status)

	network.cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
