package booking

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures events in publish order.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]EventKind, len(s.events))
	for i, ev := range s.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func newTestEngine(t *testing.T) (*Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	return NewEngine([]string{"Room101", "Gym"}, sink), sink
}

func TestBookShiftQueryScenario(t *testing.T) {
	engine, _ := newTestEngine(t)

	// Book Mon 09:00-10:00.
	b1, err := engine.Book("Room101", iv(tp(Monday, 9, 0), tp(Monday, 10, 0)), 42)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, b1)

	// Overlapping booking is rejected.
	_, err = engine.Book("Room101", iv(tp(Monday, 9, 30), tp(Monday, 10, 30)), 42)
	require.ErrorIs(t, err, ErrOverlap)

	// Shift by +60min succeeds; its only conflict is its own old slot.
	moved, err := engine.Shift(b1, 60)
	require.NoError(t, err)
	assert.Equal(t, iv(tp(Monday, 10, 0), tp(Monday, 11, 0)), moved)

	// Query shows exactly the shifted interval.
	days, err := engine.Availability("Room101", []Day{Monday})
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Len(t, days[0].Bookings, 1)
	assert.Equal(t, iv(tp(Monday, 10, 0), tp(Monday, 11, 0)), days[0].Bookings[0].Interval)
	assert.Equal(t, b1, days[0].Bookings[0].ID)
}

func TestBookValidation(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Book("Pool", iv(tp(Monday, 9, 0), tp(Monday, 10, 0)), 1)
	assert.ErrorIs(t, err, ErrFacilityNotFound)

	// start >= end
	_, err = engine.Book("Room101", iv(tp(Monday, 10, 0), tp(Monday, 9, 0)), 1)
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = engine.Book("Room101", iv(tp(Monday, 9, 0), tp(Monday, 9, 0)), 1)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestAvailabilityValidation(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Availability("Pool", []Day{Monday})
	assert.ErrorIs(t, err, ErrFacilityNotFound)

	_, err = engine.Availability("Room101", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = engine.Availability("Room101", []Day{Day(9)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAvailabilityListsCrossDayBookings(t *testing.T) {
	engine, _ := newTestEngine(t)

	id, err := engine.Book("Gym", iv(tp(Monday, 23, 0), tp(Tuesday, 1, 0)), 1)
	require.NoError(t, err)

	days, err := engine.Availability("Gym", []Day{Monday, Tuesday, Wednesday})
	require.NoError(t, err)
	require.Len(t, days, 3)
	require.Len(t, days[0].Bookings, 1)
	assert.Equal(t, id, days[0].Bookings[0].ID)
	require.Len(t, days[1].Bookings, 1)
	assert.Equal(t, id, days[1].Bookings[0].ID)
	assert.Empty(t, days[2].Bookings)
}

func TestShiftErrors(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Shift(uuid.New(), 30)
	assert.ErrorIs(t, err, ErrBookingNotFound)

	b1, err := engine.Book("Room101", iv(tp(Monday, 9, 0), tp(Monday, 10, 0)), 1)
	require.NoError(t, err)
	b2, err := engine.Book("Room101", iv(tp(Monday, 11, 0), tp(Monday, 12, 0)), 1)
	require.NoError(t, err)

	// Colliding with the other booking fails and changes nothing.
	_, err = engine.Shift(b1, 150)
	require.ErrorIs(t, err, ErrOverlap)
	current, err := engine.Get(b1)
	require.NoError(t, err)
	assert.Equal(t, iv(tp(Monday, 9, 0), tp(Monday, 10, 0)), current.Interval)

	// Shifting past the start of the week fails.
	_, err = engine.Shift(b1, -10*60)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	// b2 can slide into the slot b1 vacated... but b1 hasn't moved, so
	// only a non-overlapping target works.
	moved, err := engine.Shift(b2, 60)
	require.NoError(t, err)
	assert.Equal(t, iv(tp(Monday, 12, 0), tp(Monday, 13, 0)), moved)
}

func TestShiftOntoOwnSlotSucceeds(t *testing.T) {
	engine, _ := newTestEngine(t)

	id, err := engine.Book("Room101", iv(tp(Monday, 9, 0), tp(Monday, 10, 0)), 1)
	require.NoError(t, err)

	// A 10 minute nudge overlaps only the booking's prior interval,
	// which is excluded from the check against itself.
	moved, err := engine.Shift(id, 10)
	require.NoError(t, err)
	assert.Equal(t, iv(tp(Monday, 9, 10), tp(Monday, 10, 10)), moved)
}

func TestExtend(t *testing.T) {
	engine, _ := newTestEngine(t)

	id, err := engine.Book("Room101", iv(tp(Monday, 9, 0), tp(Monday, 10, 0)), 1)
	require.NoError(t, err)

	_, err = engine.Extend(id, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = engine.Extend(id, -30)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	extended, err := engine.Extend(id, 30)
	require.NoError(t, err)
	assert.Equal(t, iv(tp(Monday, 9, 0), tp(Monday, 10, 30)), extended)

	// Extending into a neighbour fails.
	_, err = engine.Book("Room101", iv(tp(Monday, 11, 0), tp(Monday, 12, 0)), 1)
	require.NoError(t, err)
	_, err = engine.Extend(id, 60)
	assert.ErrorIs(t, err, ErrOverlap)

	// Extending past Sunday midnight fails, including landing exactly
	// on Sunday 24:00, which no TimePoint can represent.
	last, err := engine.Book("Room101", iv(tp(Sunday, 23, 0), tp(Sunday, 23, 30)), 1)
	require.NoError(t, err)
	_, err = engine.Extend(last, 60)
	assert.ErrorIs(t, err, ErrInvalidInterval)
	_, err = engine.Extend(last, 30)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	// Sunday 23:59 is the last reachable end.
	extended, err = engine.Extend(last, 29)
	require.NoError(t, err)
	assert.Equal(t, iv(tp(Sunday, 23, 0), tp(Sunday, 23, 59)), extended)
	assert.True(t, extended.End.Valid())
}

func TestShiftWeekEndBoundary(t *testing.T) {
	engine, _ := newTestEngine(t)

	id, err := engine.Book("Gym", iv(tp(Sunday, 22, 0), tp(Sunday, 23, 0)), 1)
	require.NoError(t, err)

	// A shift that would land the end exactly on Sunday 24:00 fails and
	// leaves the booking untouched.
	_, err = engine.Shift(id, 60)
	require.ErrorIs(t, err, ErrInvalidInterval)
	current, err := engine.Get(id)
	require.NoError(t, err)
	assert.Equal(t, iv(tp(Sunday, 22, 0), tp(Sunday, 23, 0)), current.Interval)

	moved, err := engine.Shift(id, 59)
	require.NoError(t, err)
	assert.Equal(t, iv(tp(Sunday, 22, 59), tp(Sunday, 23, 59)), moved)
	assert.True(t, moved.End.Valid())
}

func TestCancelFreesInterval(t *testing.T) {
	engine, _ := newTestEngine(t)

	id, err := engine.Book("Room101", iv(tp(Monday, 9, 0), tp(Monday, 10, 0)), 1)
	require.NoError(t, err)
	require.NoError(t, engine.Cancel(id))

	// The slot is free again and the booking is gone.
	_, err = engine.Book("Room101", iv(tp(Monday, 9, 0), tp(Monday, 10, 0)), 1)
	require.NoError(t, err)
	assert.ErrorIs(t, engine.Cancel(id), ErrBookingNotFound)
	_, err = engine.Get(id)
	assert.ErrorIs(t, err, ErrBookingNotFound)
	_, err = engine.Shift(id, 10)
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestNoOverlapInvariantAfterMixedOperations(t *testing.T) {
	engine, _ := newTestEngine(t)

	var ids []uuid.UUID
	for hour := uint8(8); hour < 18; hour += 2 {
		id, err := engine.Book("Gym", iv(tp(Tuesday, hour, 0), tp(Tuesday, hour+1, 0)), 7)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// A mix of succeeding and failing mutations.
	_, _ = engine.Shift(ids[0], 120) // collides with 10:00
	_, _ = engine.Shift(ids[1], 30)  // self-overlap only, fine
	_, _ = engine.Extend(ids[2], 90) // collides with 14:00
	_, _ = engine.Extend(ids[3], 45) // fine
	require.NoError(t, engine.Cancel(ids[4]))
	_, _ = engine.Book("Gym", iv(tp(Tuesday, 16, 30), tp(Tuesday, 17, 30)), 7)

	days, err := engine.Availability("Gym", []Day{Tuesday})
	require.NoError(t, err)
	bookings := days[0].Bookings

	for i := 1; i < len(bookings); i++ {
		prev, cur := bookings[i-1], bookings[i]
		assert.LessOrEqual(t, prev.Interval.Start.Minutes(), cur.Interval.Start.Minutes(), "sorted by start")
		assert.False(t, prev.Interval.Overlaps(cur.Interval),
			"bookings %s and %s overlap", prev.Interval, cur.Interval)
	}
}

func TestEventsEmittedInMutationOrder(t *testing.T) {
	engine, sink := newTestEngine(t)

	id, err := engine.Book("Room101", iv(tp(Monday, 9, 0), tp(Monday, 10, 0)), 1)
	require.NoError(t, err)
	_, err = engine.Shift(id, 30)
	require.NoError(t, err)
	_, err = engine.Extend(id, 15)
	require.NoError(t, err)
	require.NoError(t, engine.Cancel(id))

	// Failed mutations emit nothing.
	_, err = engine.Shift(id, 30)
	require.Error(t, err)

	assert.Equal(t, []EventKind{EventCreated, EventShifted, EventExtended, EventCancelled}, sink.kinds())
	for _, ev := range sink.events {
		assert.Equal(t, "Room101", ev.Facility)
		assert.Equal(t, id, ev.BookingID)
	}
}
