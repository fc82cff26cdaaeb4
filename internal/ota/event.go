package ota

import "fmt"

type EventType int

const (
	EventStart EventType = iota + 1
	EventProgress
	EventEnd
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStart:
		return "start"
	case EventProgress:
		return "progress"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// ErrorKind says which stage of an update failed.
type ErrorKind int

const (
	ErrorAuth ErrorKind = iota + 1
	ErrorBegin
	ErrorConnect
	ErrorReceive
	ErrorEnd
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorAuth:
		return "auth failed"
	case ErrorBegin:
		return "begin failed"
	case ErrorConnect:
		return "connect failed"
	case ErrorReceive:
		return "receive failed"
	case ErrorEnd:
		return "end failed"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Event reports update progress. Done and Total are set for EventProgress,
// Kind and Err for EventError.
type Event struct {
	Type  EventType
	Done  int64
	Total int64
	Kind  ErrorKind
	Err   error
}

// Percent is done / (total / 100), the way the progress line has always been
// computed. Totals under 100 bytes fall back to exact arithmetic.
func (e Event) Percent() int64 {
	if e.Total <= 0 {
		return 0
	}
	if step := e.Total / 100; step > 0 {
		return e.Done / step
	}
	return e.Done * 100 / e.Total
}

// Error is a failed update attempt.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
