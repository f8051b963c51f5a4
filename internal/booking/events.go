package booking

import "github.com/google/uuid"

// EventKind identifies which mutation produced an event.
type EventKind uint8

const (
	EventCreated EventKind = iota
	EventShifted
	EventCancelled
	EventExtended
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventShifted:
		return "shifted"
	case EventCancelled:
		return "cancelled"
	case EventExtended:
		return "extended"
	default:
		return "unknown"
	}
}

// Event describes one applied mutation to a facility's calendar.
type Event struct {
	Kind      EventKind
	Facility  string
	BookingID uuid.UUID
	Interval  Interval
}

// EventSink receives mutation events. The engine calls Publish while
// still holding the mutated facility's lock, so sinks observe events
// in the exact order mutations took effect.
type EventSink interface {
	Publish(Event)
}
