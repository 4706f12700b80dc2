package comm

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// EventType is the severity of a driver notification.
type EventType uint8

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

var eventTypes = [...]struct {
	tag   string
	level zerolog.Level
}{
	EventTypeError:   {"ERROR", zerolog.ErrorLevel},
	EventTypeWarning: {"WARN", zerolog.WarnLevel},
	EventTypeInfo:    {"INFO", zerolog.InfoLevel},
	EventTypeDebug:   {"DEBUG", zerolog.DebugLevel},
}

func (t EventType) String() string {
	if int(t) < len(eventTypes) {
		return eventTypes[t].tag
	}
	return fmt.Sprintf("EVENT(%d)", uint8(t))
}

// Level maps the type onto a log level, unknown types log at debug.
func (t EventType) Level() zerolog.Level {
	if int(t) < len(eventTypes) {
		return eventTypes[t].level
	}
	return zerolog.DebugLevel
}

// Event is a driver notification, not a frame.
type Event struct {
	Type    EventType
	Details string
	// Time is zero for events built outside the driver.
	Time time.Time
}

func (e Event) String() string {
	return "[" + e.Type.String() + "] " + e.Details
}
