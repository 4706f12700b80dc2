package comm

import (
	"time"

	"github.com/roffe/kefexcan"
)

// CyclicMessage is a frame transmitted every Interval independent of any
// request/response traffic. An Interval of zero sends the frame once.
type CyclicMessage struct {
	Frame    kefexcan.TxFrame
	Interval time.Duration

	nextDue time.Time
}

// Equal compares two registrations ignoring the scheduling state.
func (c CyclicMessage) Equal(other CyclicMessage) bool {
	return c.Frame == other.Frame && c.Interval == other.Interval
}

func (c CyclicMessage) NextDue() time.Time {
	return c.nextDue
}

func (c *CyclicMessage) due(now time.Time) bool {
	return !now.Before(c.nextDue)
}

// reschedule moves the due time one interval ahead, a registration that
// fell more than one interval behind restarts from now.
func (c *CyclicMessage) reschedule(now time.Time) {
	c.nextDue = c.nextDue.Add(c.Interval)
	if c.nextDue.Before(now) {
		c.nextDue = now.Add(c.Interval)
	}
}
