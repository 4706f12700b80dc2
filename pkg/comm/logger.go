package comm

import (
	"time"

	"github.com/roffe/kefexcan"
)

type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	if d == TX {
		return "TX"
	}
	return "RX"
}

// Entry is one frame handed to the loggers. Frames sent by the driver are
// reported as pseudo RX frames with Direction TX.
type Entry struct {
	Frame     kefexcan.RxFrame
	Direction Direction
	Time      time.Time
}

// Logger receives every frame seen or sent by a Driver.
type Logger interface {
	Start(bitrate uint32)
	Stop()
	Log(Entry)
	Event(Event)
}
