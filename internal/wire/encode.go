package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/codr1/courtline/internal/booking"
)

// writer builds a datagram with a sticky error, mirroring the reader.
// Oversized fields set the error instead of emitting corrupt output.
type writer struct {
	buf []byte
	err error
}

func (w *writer) fail(format string, args ...any) {
	if w.err == nil {
		w.err = fmt.Errorf(format, args...)
	}
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }
func (w *writer) i32(v int32)  { w.u32(uint32(v)) }

func (w *writer) str(s string) {
	if len(s) > math.MaxUint16 {
		w.fail("string too long for length prefix: %d bytes", len(s))
		return
	}
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) id(u uuid.UUID) { w.buf = append(w.buf, u[:]...) }

func (w *writer) timePoint(t booking.TimePoint) {
	w.u8(uint8(t.Day))
	w.u8(t.Hour)
	w.u8(t.Minute)
}

func (w *writer) interval(iv booking.Interval) {
	w.timePoint(iv.Start)
	w.timePoint(iv.End)
}

// EncodeRequest serializes a request datagram. It rejects bodies the
// frame cannot carry faithfully: strings beyond the uint16 length
// prefix and day lists beyond the uint8 count.
func EncodeRequest(h Header, b Body) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 64)}
	w.u64(h.ClientID)
	w.u32(h.Seq)
	w.u8(uint8(b.Op()))
	switch body := b.(type) {
	case QueryAvailability:
		w.str(body.Facility)
		if len(body.Days) > math.MaxUint8 {
			w.fail("too many days for count prefix: %d", len(body.Days))
		}
		w.u8(uint8(len(body.Days)))
		for _, d := range body.Days {
			w.u8(uint8(d))
		}
	case Book:
		w.str(body.Facility)
		w.interval(body.Interval)
	case Shift:
		w.id(body.BookingID)
		w.i32(body.OffsetMinutes)
	case Monitor:
		w.str(body.Facility)
		w.u16(body.Seconds)
	case Cancel:
		w.id(body.BookingID)
	case Extend:
		w.id(body.BookingID)
		w.i32(body.ExtendMinutes)
	case GetBooking:
		w.id(body.BookingID)
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// EncodeReply serializes a reply datagram, including the frame kind.
func EncodeReply(r Reply) []byte {
	w := &writer{buf: make([]byte, 0, 32+len(r.Payload))}
	w.u8(frameReply)
	w.u64(r.ClientID)
	w.u32(r.Seq)
	w.u8(uint8(r.Status))
	w.buf = append(w.buf, r.Payload...)
	return w.buf
}

// EncodeEvent serializes a monitor push datagram.
func EncodeEvent(ev booking.Event) []byte {
	w := &writer{buf: make([]byte, 0, 48)}
	w.u8(frameEvent)
	w.u8(uint8(ev.Kind))
	w.str(ev.Facility)
	w.id(ev.BookingID)
	w.interval(ev.Interval)
	return w.buf
}

// ErrorPayload builds the payload of an error reply: a human-readable
// message. The message must be identical across retries of the same
// request so cached replies stay byte-stable.
func ErrorPayload(msg string) []byte {
	w := &writer{}
	w.str(msg)
	return w.buf
}

// AvailabilityPayload builds a QueryAvailability success payload.
func AvailabilityPayload(days []DayAvailability) []byte {
	w := &writer{buf: make([]byte, 0, 16)}
	w.u8(uint8(len(days)))
	for _, d := range days {
		w.u8(uint8(d.Day))
		w.u16(uint16(len(d.Booked)))
		for _, b := range d.Booked {
			w.interval(b.Interval)
			w.id(b.BookingID)
		}
	}
	return w.buf
}

// BookingIDPayload builds a Book success payload.
func BookingIDPayload(id uuid.UUID) []byte {
	w := &writer{}
	w.id(id)
	return w.buf
}

// IntervalPayload builds a Shift/Extend success payload carrying the
// booking's new interval.
func IntervalPayload(iv booking.Interval) []byte {
	w := &writer{}
	w.interval(iv)
	return w.buf
}

// MonitorPayload echoes the granted observation window in seconds.
func MonitorPayload(seconds uint16) []byte {
	w := &writer{}
	w.u16(seconds)
	return w.buf
}

// BookingDetailsPayload builds a GetBooking success payload.
func BookingDetailsPayload(d BookingDetails) []byte {
	w := &writer{}
	w.str(d.Facility)
	w.interval(d.Interval)
	return w.buf
}
