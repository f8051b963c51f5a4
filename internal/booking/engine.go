package booking

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrFacilityNotFound = errors.New("facility not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrInvalidInterval  = errors.New("invalid interval")
	ErrOverlap          = errors.New("interval overlaps an existing booking")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Booking is one confirmed exclusive reservation of a facility.
type Booking struct {
	ID       uuid.UUID
	Facility string
	Interval Interval
	// Owner is the client identity that created the booking.
	Owner uint64
}

// facility owns one weekly calendar. bookings stays sorted by start
// minute and pairwise non-overlapping; every mutation re-establishes
// the invariant under mu.
type facility struct {
	mu       sync.Mutex
	name     string
	bookings []*Booking
}

// Engine is the facility store and booking engine. The facility set is
// fixed at construction; different facilities may be mutated
// concurrently since each carries its own lock.
type Engine struct {
	sink EventSink

	facilities map[string]*facility

	idMu sync.RWMutex
	byID map[uuid.UUID]*facility
}

// NewEngine registers the given facilities. sink may be nil when no
// one listens for mutations.
func NewEngine(names []string, sink EventSink) *Engine {
	e := &Engine{
		sink:       sink,
		facilities: make(map[string]*facility, len(names)),
		byID:       make(map[uuid.UUID]*facility),
	}
	for _, name := range names {
		e.facilities[name] = &facility{name: name}
	}
	return e
}

// HasFacility reports whether the name is registered.
func (e *Engine) HasFacility(name string) bool {
	_, ok := e.facilities[name]
	return ok
}

// Facilities returns the registered facility names, sorted.
func (e *Engine) Facilities() []string {
	names := make([]string, 0, len(e.facilities))
	for name := range e.facilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DayBookings lists the booked intervals of one requested day.
type DayBookings struct {
	Day      Day
	Bookings []Booking
}

// Availability returns, per requested day, the bookings that touch
// that day, in calendar order. Days are reported in request order.
func (e *Engine) Availability(name string, days []Day) ([]DayBookings, error) {
	if len(days) == 0 {
		return nil, ErrInvalidRequest
	}
	for _, d := range days {
		if !d.Valid() {
			return nil, ErrInvalidRequest
		}
	}
	f, ok := e.facilities[name]
	if !ok {
		return nil, ErrFacilityNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]DayBookings, 0, len(days))
	for _, day := range days {
		dayStart := int(day) * minutesPerDay
		dayEnd := dayStart + minutesPerDay
		db := DayBookings{Day: day}
		for _, b := range f.bookings {
			if b.Interval.Start.Minutes() < dayEnd && dayStart < b.Interval.End.Minutes() {
				db.Bookings = append(db.Bookings, *b)
			}
		}
		out = append(out, db)
	}
	return out, nil
}

// Book reserves the interval exclusively and returns a fresh booking
// ID. The interval must be valid and must not intersect any existing
// booking of the facility (half-open comparison).
func (e *Engine) Book(name string, iv Interval, owner uint64) (uuid.UUID, error) {
	f, ok := e.facilities[name]
	if !ok {
		return uuid.Nil, ErrFacilityNotFound
	}
	if !iv.Valid() {
		return uuid.Nil, ErrInvalidInterval
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conflict(iv, uuid.Nil) {
		return uuid.Nil, ErrOverlap
	}

	b := &Booking{ID: uuid.New(), Facility: name, Interval: iv, Owner: owner}
	f.insert(b)

	e.idMu.Lock()
	e.byID[b.ID] = f
	e.idMu.Unlock()

	log.Debug().Str("facility", name).Str("booking_id", b.ID.String()).Stringer("interval", iv).Msg("Booking created")
	e.publish(Event{Kind: EventCreated, Facility: name, BookingID: b.ID, Interval: iv})
	return b.ID, nil
}

// Shift moves a booking by the signed minute offset, re-validating
// against every other booking of the same facility. The booking's own
// prior interval is excluded from the overlap check.
func (e *Engine) Shift(id uuid.UUID, offsetMinutes int) (Interval, error) {
	return e.replaceInterval(id, EventShifted, func(iv Interval) (Interval, error) {
		moved, ok := iv.Offset(offsetMinutes)
		if !ok {
			return Interval{}, ErrInvalidInterval
		}
		return moved, nil
	})
}

// Extend moves only the end of a booking later by the given number of
// minutes. The extension must be positive.
func (e *Engine) Extend(id uuid.UUID, extendMinutes int) (Interval, error) {
	if extendMinutes <= 0 {
		return Interval{}, ErrInvalidRequest
	}
	return e.replaceInterval(id, EventExtended, func(iv Interval) (Interval, error) {
		end := iv.End.Minutes() + extendMinutes
		if end >= WeekMinutes {
			return Interval{}, ErrInvalidInterval
		}
		return Interval{Start: iv.Start, End: TimePointAt(end)}, nil
	})
}

// Cancel removes the booking and frees its interval.
func (e *Engine) Cancel(id uuid.UUID) error {
	f, ok := e.owner(id)
	if !ok {
		return ErrBookingNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	pos := f.position(id)
	if pos < 0 {
		return ErrBookingNotFound
	}
	b := f.bookings[pos]
	f.bookings = append(f.bookings[:pos], f.bookings[pos+1:]...)

	e.idMu.Lock()
	delete(e.byID, id)
	e.idMu.Unlock()

	log.Debug().Str("facility", f.name).Str("booking_id", id.String()).Msg("Booking cancelled")
	e.publish(Event{Kind: EventCancelled, Facility: f.name, BookingID: id, Interval: b.Interval})
	return nil
}

// Get returns a copy of the booking's current details.
func (e *Engine) Get(id uuid.UUID) (Booking, error) {
	f, ok := e.owner(id)
	if !ok {
		return Booking{}, ErrBookingNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	pos := f.position(id)
	if pos < 0 {
		return Booking{}, ErrBookingNotFound
	}
	return *f.bookings[pos], nil
}

// replaceInterval atomically swaps a booking's interval for a candidate
// computed by next, keeping the sorted non-overlap invariant. Failed
// candidates leave the calendar untouched.
func (e *Engine) replaceInterval(id uuid.UUID, kind EventKind, next func(Interval) (Interval, error)) (Interval, error) {
	f, ok := e.owner(id)
	if !ok {
		return Interval{}, ErrBookingNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	pos := f.position(id)
	if pos < 0 {
		return Interval{}, ErrBookingNotFound
	}
	b := f.bookings[pos]

	candidate, err := next(b.Interval)
	if err != nil {
		return Interval{}, err
	}
	if f.conflict(candidate, id) {
		return Interval{}, ErrOverlap
	}

	f.bookings = append(f.bookings[:pos], f.bookings[pos+1:]...)
	b.Interval = candidate
	f.insert(b)

	log.Debug().Str("facility", f.name).Str("booking_id", id.String()).Stringer("interval", candidate).Str("kind", kind.String()).Msg("Booking interval replaced")
	e.publish(Event{Kind: kind, Facility: f.name, BookingID: id, Interval: candidate})
	return candidate, nil
}

func (e *Engine) owner(id uuid.UUID) (*facility, bool) {
	e.idMu.RLock()
	defer e.idMu.RUnlock()
	f, ok := e.byID[id]
	return f, ok
}

func (e *Engine) publish(ev Event) {
	if e.sink != nil {
		e.sink.Publish(ev)
	}
}

// conflict reports whether iv overlaps any booking other than exclude.
// Linear scan; a facility holds at most a few hundred bookings a week.
func (f *facility) conflict(iv Interval, exclude uuid.UUID) bool {
	for _, b := range f.bookings {
		if b.ID == exclude {
			continue
		}
		if b.Interval.Overlaps(iv) {
			return true
		}
	}
	return false
}

// insert keeps bookings sorted by start minute.
func (f *facility) insert(b *Booking) {
	pos := sort.Search(len(f.bookings), func(i int) bool {
		return f.bookings[i].Interval.Start.Minutes() >= b.Interval.Start.Minutes()
	})
	f.bookings = append(f.bookings, nil)
	copy(f.bookings[pos+1:], f.bookings[pos:])
	f.bookings[pos] = b
}

func (f *facility) position(id uuid.UUID) int {
	for i, b := range f.bookings {
		if b.ID == id {
			return i
		}
	}
	return -1
}
