package uart

import "fmt"

// EventKind identifies what happened on the serial line
type EventKind int

const (
	EventData EventKind = iota
	EventFifoOverflow
	EventBufferFull
	EventBreak
	EventParityError
	EventFrameError
	EventWakeup
	EventOther
)

// String returns the name used in logs, metrics and Redis fields
func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventFifoOverflow:
		return "fifo-overflow"
	case EventBufferFull:
		return "buffer-full"
	case EventBreak:
		return "break"
	case EventParityError:
		return "parity-error"
	case EventFrameError:
		return "frame-error"
	case EventWakeup:
		return "wakeup"
	default:
		return "other"
	}
}

// Event is a single notification from the driver.
// Size is only set for EventData, Code only for EventOther.
type Event struct {
	Kind EventKind
	Size int
	Code int
}

func (e Event) String() string {
	switch e.Kind {
	case EventData:
		return fmt.Sprintf("data(%d)", e.Size)
	case EventOther:
		return fmt.Sprintf("other(%d)", e.Code)
	default:
		return e.Kind.String()
	}
}

// Data returns a data event announcing size buffered bytes
func Data(size int) Event {
	return Event{Kind: EventData, Size: size}
}

// Other returns a catch-all event carrying a raw code
func Other(code int) Event {
	return Event{Kind: EventOther, Code: code}
}
