// Package wire encodes and decodes the datagram protocol: compact
// big-endian binary requests, replies, and monitor event pushes.
//
// Request datagram:  [clientID u64][seq u32][opcode u8][payload]
// Server datagram:   [kind u8] then either
//
//	reply: [clientID u64][seq u32][status u8][payload]
//	event: [event u8][facility][bookingID][interval]
//
// Strings are uint16-length-prefixed UTF-8. TimePoints are three bytes
// (day, hour, minute). Booking IDs are 16-byte UUIDs.
package wire

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/codr1/courtline/internal/booking"
)

// Op tags a request operation.
type Op uint8

const (
	OpQueryAvailability Op = 0x01
	OpBook              Op = 0x02
	OpShift             Op = 0x03
	OpMonitor           Op = 0x04
	OpCancel            Op = 0x05
	OpExtend            Op = 0x06
	OpGetBooking        Op = 0x07
)

func (op Op) String() string {
	switch op {
	case OpQueryAvailability:
		return "query_availability"
	case OpBook:
		return "book"
	case OpShift:
		return "shift"
	case OpMonitor:
		return "monitor"
	case OpCancel:
		return "cancel"
	case OpExtend:
		return "extend"
	case OpGetBooking:
		return "get_booking"
	default:
		return fmt.Sprintf("op(0x%02x)", uint8(op))
	}
}

// Idempotent reports whether re-executing the operation is
// side-effect-free. Idempotent requests bypass the server's dedup
// cache; non-idempotent ones must go through it.
func (op Op) Idempotent() bool {
	switch op {
	case OpQueryAvailability, OpMonitor, OpGetBooking:
		return true
	default:
		return false
	}
}

// Status is the reply outcome code.
type Status uint8

const (
	StatusOK Status = iota
	StatusMalformed
	StatusFacilityNotFound
	StatusBookingNotFound
	StatusInvalidInterval
	StatusOverlap
	StatusInvalidRequest
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMalformed:
		return "malformed_request"
	case StatusFacilityNotFound:
		return "facility_not_found"
	case StatusBookingNotFound:
		return "booking_not_found"
	case StatusInvalidInterval:
		return "invalid_interval"
	case StatusOverlap:
		return "overlap"
	case StatusInvalidRequest:
		return "invalid_request"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Frame kinds for server→client datagrams.
const (
	frameReply uint8 = 0
	frameEvent uint8 = 1
)

// Header identifies one invocation: the client identity plus its
// per-client monotonically increasing sequence number. Together they
// are the deduplication key.
type Header struct {
	ClientID uint64
	Seq      uint32
}

// Body is the closed union of request payloads.
type Body interface {
	Op() Op
}

type QueryAvailability struct {
	Facility string
	Days     []booking.Day
}

type Book struct {
	Facility string
	Interval booking.Interval
}

type Shift struct {
	BookingID     uuid.UUID
	OffsetMinutes int32
}

type Monitor struct {
	Facility string
	Seconds  uint16
}

type Cancel struct {
	BookingID uuid.UUID
}

type Extend struct {
	BookingID     uuid.UUID
	ExtendMinutes int32
}

type GetBooking struct {
	BookingID uuid.UUID
}

func (QueryAvailability) Op() Op { return OpQueryAvailability }
func (Book) Op() Op              { return OpBook }
func (Shift) Op() Op             { return OpShift }
func (Monitor) Op() Op           { return OpMonitor }
func (Cancel) Op() Op            { return OpCancel }
func (Extend) Op() Op            { return OpExtend }
func (GetBooking) Op() Op        { return OpGetBooking }

// Request is one decoded client request.
type Request struct {
	Header
	Body Body
}

// Reply is one server response. Payload layout depends on the
// operation and status; error replies carry a length-prefixed message.
type Reply struct {
	Header
	Status  Status
	Payload []byte
}

// BookedInterval pairs an interval with the booking occupying it, as
// reported by availability queries.
type BookedInterval struct {
	BookingID uuid.UUID
	Interval  booking.Interval
}

// DayAvailability lists the booked intervals of one day.
type DayAvailability struct {
	Day    booking.Day
	Booked []BookedInterval
}

// BookingDetails is the GetBooking success payload.
type BookingDetails struct {
	Facility string
	Interval booking.Interval
}

// MalformedError reports bytes that could not be decoded: truncated
// buffers, invalid operation tags, or out-of-range field values.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed message: " + e.Reason
}

func malformed(format string, args ...any) *MalformedError {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}
