package wire

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/codr1/courtline/internal/booking"
)

// reader consumes a datagram with a sticky error. Once a read fails,
// later reads return zero values and the error survives to the caller.
type reader struct {
	buf []byte
	off int
	err *MalformedError
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = malformed(format, args...)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.fail("truncated: need %d bytes at offset %d, have %d", n, r.off, len(r.buf)-r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) i32() int32 { return int32(r.u32()) }

func (r *reader) str() string {
	n := int(r.u16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *reader) id() uuid.UUID {
	b := r.take(16)
	if b == nil {
		return uuid.Nil
	}
	var u uuid.UUID
	copy(u[:], b)
	return u
}

func (r *reader) timePoint() booking.TimePoint {
	t := booking.TimePoint{
		Day:    booking.Day(r.u8()),
		Hour:   r.u8(),
		Minute: r.u8(),
	}
	if r.err == nil && !t.Valid() {
		r.fail("time point out of range: day=%d hour=%d minute=%d", t.Day, t.Hour, t.Minute)
	}
	return t
}

func (r *reader) interval() booking.Interval {
	return booking.Interval{Start: r.timePoint(), End: r.timePoint()}
}

// DecodeRequestHeader reads just the invocation header, so the server
// can still address an error reply when the rest of a datagram is
// garbage. ok is false when fewer than 12 bytes arrived.
func DecodeRequestHeader(data []byte) (Header, bool) {
	if len(data) < 12 {
		return Header{}, false
	}
	return Header{
		ClientID: binary.BigEndian.Uint64(data[:8]),
		Seq:      binary.BigEndian.Uint32(data[8:12]),
	}, true
}

// DecodeRequest parses a full request datagram. Trailing bytes beyond
// the operation payload are ignored.
func DecodeRequest(data []byte) (Request, error) {
	r := &reader{buf: data}
	req := Request{Header: Header{ClientID: r.u64(), Seq: r.u32()}}
	op := Op(r.u8())
	if r.err != nil {
		return Request{}, r.err
	}

	switch op {
	case OpQueryAvailability:
		body := QueryAvailability{Facility: r.str()}
		count := int(r.u8())
		for i := 0; i < count; i++ {
			d := booking.Day(r.u8())
			if r.err == nil && !d.Valid() {
				r.fail("day out of range: %d", d)
			}
			body.Days = append(body.Days, d)
		}
		req.Body = body
	case OpBook:
		req.Body = Book{Facility: r.str(), Interval: r.interval()}
	case OpShift:
		req.Body = Shift{BookingID: r.id(), OffsetMinutes: r.i32()}
	case OpMonitor:
		req.Body = Monitor{Facility: r.str(), Seconds: r.u16()}
	case OpCancel:
		req.Body = Cancel{BookingID: r.id()}
	case OpExtend:
		req.Body = Extend{BookingID: r.id(), ExtendMinutes: r.i32()}
	case OpGetBooking:
		req.Body = GetBooking{BookingID: r.id()}
	default:
		return Request{}, malformed("invalid operation tag 0x%02x", uint8(op))
	}

	if r.err != nil {
		return Request{}, r.err
	}
	return req, nil
}

// ServerMessage is one decoded server→client datagram: exactly one of
// Reply or Event is set.
type ServerMessage struct {
	Reply *Reply
	Event *booking.Event
}

// DecodeServerMessage parses a reply or event push datagram.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	r := &reader{buf: data}
	switch kind := r.u8(); {
	case r.err != nil:
		return ServerMessage{}, r.err
	case kind == frameReply:
		rep := &Reply{
			Header: Header{ClientID: r.u64(), Seq: r.u32()},
			Status: Status(r.u8()),
		}
		if r.err != nil {
			return ServerMessage{}, r.err
		}
		rep.Payload = data[r.off:]
		return ServerMessage{Reply: rep}, nil
	case kind == frameEvent:
		ev := &booking.Event{
			Kind:      booking.EventKind(r.u8()),
			Facility:  r.str(),
			BookingID: r.id(),
			Interval:  r.interval(),
		}
		if r.err != nil {
			return ServerMessage{}, r.err
		}
		return ServerMessage{Event: ev}, nil
	default:
		return ServerMessage{}, malformed("invalid frame kind %d", kind)
	}
}

// ParseErrorPayload extracts the message from an error reply.
func ParseErrorPayload(payload []byte) (string, error) {
	r := &reader{buf: payload}
	msg := r.str()
	if r.err != nil {
		return "", r.err
	}
	return msg, nil
}

// ParseAvailabilityPayload decodes a QueryAvailability success payload.
func ParseAvailabilityPayload(payload []byte) ([]DayAvailability, error) {
	r := &reader{buf: payload}
	count := int(r.u8())
	days := make([]DayAvailability, 0, count)
	for i := 0; i < count; i++ {
		d := DayAvailability{Day: booking.Day(r.u8())}
		slots := int(r.u16())
		for j := 0; j < slots; j++ {
			d.Booked = append(d.Booked, BookedInterval{
				Interval:  r.interval(),
				BookingID: r.id(),
			})
		}
		days = append(days, d)
	}
	if r.err != nil {
		return nil, r.err
	}
	return days, nil
}

// ParseBookingIDPayload decodes a Book success payload.
func ParseBookingIDPayload(payload []byte) (uuid.UUID, error) {
	r := &reader{buf: payload}
	id := r.id()
	if r.err != nil {
		return uuid.Nil, r.err
	}
	return id, nil
}

// ParseIntervalPayload decodes a Shift/Extend success payload.
func ParseIntervalPayload(payload []byte) (booking.Interval, error) {
	r := &reader{buf: payload}
	iv := r.interval()
	if r.err != nil {
		return booking.Interval{}, r.err
	}
	return iv, nil
}

// ParseMonitorPayload decodes a Monitor success payload.
func ParseMonitorPayload(payload []byte) (uint16, error) {
	r := &reader{buf: payload}
	secs := r.u16()
	if r.err != nil {
		return 0, r.err
	}
	return secs, nil
}

// ParseBookingDetailsPayload decodes a GetBooking success payload.
func ParseBookingDetailsPayload(payload []byte) (BookingDetails, error) {
	r := &reader{buf: payload}
	d := BookingDetails{Facility: r.str(), Interval: r.interval()}
	if r.err != nil {
		return BookingDetails{}, r.err
	}
	return d, nil
}
