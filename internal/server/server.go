// Package server is the server-side invocation manager: it decodes
// request datagrams, suppresses duplicates of non-idempotent
// operations, dispatches to the booking engine and monitor registry,
// and sends encoded replies.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtline/internal/booking"
	"github.com/codr1/courtline/internal/metrics"
	"github.com/codr1/courtline/internal/monitor"
	"github.com/codr1/courtline/internal/wire"
)

// maxDatagram bounds one UDP payload.
const maxDatagram = 64 * 1024

// Conn is the datagram socket the server serves on, normally a
// *transport.Conn so replies share the simulated loss/duplication.
type Conn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
}

// Server owns the request loop and its collaborators. Construct it at
// startup and pass it everything it needs; there are no globals.
type Server struct {
	conn     Conn
	engine   *booking.Engine
	monitors *monitor.Registry
	// cache is nil when reply caching is disabled; non-idempotent
	// operations then run with at-least-once semantics.
	cache   *DedupCache
	workers int
}

// New wires the server together. workers is the size of the handling
// pool; values below 1 are raised to 1.
func New(conn Conn, engine *booking.Engine, monitors *monitor.Registry, cache *DedupCache, workers int) *Server {
	if workers < 1 {
		workers = 1
	}
	return &Server{
		conn:     conn,
		engine:   engine,
		monitors: monitors,
		cache:    cache,
		workers:  workers,
	}
}

type datagram struct {
	data []byte
	addr net.Addr
}

// Run reads datagrams until ctx is cancelled, fanning them out to a
// fixed worker pool. Each facility mutation and its monitor pushes are
// serialized by the engine's per-facility locks, so workers for
// different facilities proceed in parallel.
func (s *Server) Run(ctx context.Context) error {
	jobs := make(chan datagram, s.workers*4)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				s.handle(d)
			}
		}()
	}

	// Unblock ReadFrom on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	log.Info().Int("workers", s.workers).Bool("reply_cache", s.cache != nil).Msg("Booking server listening")

	var loopErr error
	for {
		buf := make([]byte, maxDatagram)
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			loopErr = err
			break
		}
		jobs <- datagram{data: buf[:n], addr: addr}
	}

	close(jobs)
	wg.Wait()
	if loopErr != nil {
		log.Error().Err(loopErr).Msg("Receive loop failed")
		return loopErr
	}
	log.Info().Msg("Booking server stopped")
	return nil
}

func (s *Server) handle(d datagram) {
	start := time.Now()

	req, err := wire.DecodeRequest(d.data)
	if err != nil {
		s.rejectMalformed(d, err)
		return
	}

	op := req.Body.Op()
	logger := log.With().
		Uint64("client_id", req.ClientID).
		Uint32("seq", req.Seq).
		Str("op", op.String()).
		Str("addr", d.addr.String()).
		Logger()

	if s.cache != nil && !op.Idempotent() {
		switch cached, outcome := s.cache.Begin(req.Header); outcome {
		case Replay:
			metrics.DedupHits.Inc()
			logger.Debug().Msg("Duplicate request answered from reply cache")
			s.send(cached, d.addr)
			return
		case InFlight:
			metrics.DedupHits.Inc()
			logger.Debug().Msg("Duplicate request dropped; original still executing")
			return
		case Execute:
			// Fall through and run the operation.
		}
	}

	reply := s.execute(req, d.addr)
	data := wire.EncodeReply(reply)

	// Error replies are cached too: the outcome of a given invocation
	// must be stable across retries.
	if s.cache != nil && !op.Idempotent() {
		s.cache.Store(req.Header, data)
	}
	s.send(data, d.addr)

	metrics.RequestsTotal.WithLabelValues(op.String(), reply.Status.String()).Inc()
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
	logger.Info().Str("status", reply.Status.String()).Dur("duration", time.Since(start)).Msg("Request handled")
}

// execute dispatches over the closed request union. Domain errors are
// encoded into the reply exactly like successes and never crash the
// server.
func (s *Server) execute(req wire.Request, from net.Addr) wire.Reply {
	switch body := req.Body.(type) {
	case wire.QueryAvailability:
		days, err := s.engine.Availability(body.Facility, body.Days)
		if err != nil {
			return s.fail(req.Header, err)
		}
		out := make([]wire.DayAvailability, 0, len(days))
		for _, db := range days {
			da := wire.DayAvailability{Day: db.Day}
			for _, b := range db.Bookings {
				da.Booked = append(da.Booked, wire.BookedInterval{BookingID: b.ID, Interval: b.Interval})
			}
			out = append(out, da)
		}
		return s.ok(req.Header, wire.AvailabilityPayload(out))

	case wire.Book:
		id, err := s.engine.Book(body.Facility, body.Interval, req.ClientID)
		if err != nil {
			return s.fail(req.Header, err)
		}
		return s.ok(req.Header, wire.BookingIDPayload(id))

	case wire.Shift:
		iv, err := s.engine.Shift(body.BookingID, int(body.OffsetMinutes))
		if err != nil {
			return s.fail(req.Header, err)
		}
		return s.ok(req.Header, wire.IntervalPayload(iv))

	case wire.Monitor:
		if !s.engine.HasFacility(body.Facility) {
			return s.fail(req.Header, booking.ErrFacilityNotFound)
		}
		if body.Seconds == 0 {
			return s.fail(req.Header, booking.ErrInvalidRequest)
		}
		s.monitors.Subscribe(body.Facility, from, time.Duration(body.Seconds)*time.Second)
		return s.ok(req.Header, wire.MonitorPayload(body.Seconds))

	case wire.Cancel:
		if err := s.engine.Cancel(body.BookingID); err != nil {
			return s.fail(req.Header, err)
		}
		return s.ok(req.Header, nil)

	case wire.Extend:
		iv, err := s.engine.Extend(body.BookingID, int(body.ExtendMinutes))
		if err != nil {
			return s.fail(req.Header, err)
		}
		return s.ok(req.Header, wire.IntervalPayload(iv))

	case wire.GetBooking:
		b, err := s.engine.Get(body.BookingID)
		if err != nil {
			return s.fail(req.Header, err)
		}
		return s.ok(req.Header, wire.BookingDetailsPayload(wire.BookingDetails{Facility: b.Facility, Interval: b.Interval}))

	default:
		// Unreachable: DecodeRequest only produces the cases above.
		return s.fail(req.Header, booking.ErrInvalidRequest)
	}
}

func (s *Server) ok(h wire.Header, payload []byte) wire.Reply {
	return wire.Reply{Header: h, Status: wire.StatusOK, Payload: payload}
}

func (s *Server) fail(h wire.Header, err error) wire.Reply {
	return wire.Reply{Header: h, Status: statusFor(err), Payload: wire.ErrorPayload(err.Error())}
}

func (s *Server) rejectMalformed(d datagram, decodeErr error) {
	metrics.RequestsTotal.WithLabelValues("unknown", wire.StatusMalformed.String()).Inc()
	h, ok := wire.DecodeRequestHeader(d.data)
	if !ok {
		// Not even a header to echo; nothing useful to reply to.
		log.Warn().Err(decodeErr).Str("addr", d.addr.String()).Int("bytes", len(d.data)).Msg("Undecodable datagram dropped")
		return
	}
	log.Warn().Err(decodeErr).Str("addr", d.addr.String()).Uint64("client_id", h.ClientID).Uint32("seq", h.Seq).Msg("Malformed request rejected")
	reply := wire.Reply{Header: h, Status: wire.StatusMalformed, Payload: wire.ErrorPayload(decodeErr.Error())}
	s.send(wire.EncodeReply(reply), d.addr)
}

func (s *Server) send(data []byte, addr net.Addr) {
	if _, err := s.conn.WriteTo(data, addr); err != nil {
		log.Warn().Err(err).Str("addr", addr.String()).Msg("Reply send failed")
	}
}

func statusFor(err error) wire.Status {
	switch {
	case errors.Is(err, booking.ErrFacilityNotFound):
		return wire.StatusFacilityNotFound
	case errors.Is(err, booking.ErrBookingNotFound):
		return wire.StatusBookingNotFound
	case errors.Is(err, booking.ErrInvalidInterval):
		return wire.StatusInvalidInterval
	case errors.Is(err, booking.ErrOverlap):
		return wire.StatusOverlap
	default:
		return wire.StatusInvalidRequest
	}
}
