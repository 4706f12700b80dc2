// Package trace holds the comm.Logger implementations used by the tools.
package trace

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/roffe/kefexcan/pkg/comm"
)

var (
	eventColor = map[comm.EventType]*color.Color{
		comm.EventTypeError:   color.New(color.FgRed, color.Bold),
		comm.EventTypeWarning: color.New(color.FgYellow),
		comm.EventTypeInfo:    color.New(color.FgCyan),
		comm.EventTypeDebug:   color.New(color.FgWhite),
	}
	txMarker = color.New(color.FgMagenta).Sprint("TX")
	rxMarker = color.New(color.FgBlue).Sprint("RX")
)

// Console prints every frame as one line.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	colored bool
	frames  uint64
}

// NewConsole writes to w, nil means the colorable stdout of fatih/color.
func NewConsole(w io.Writer, colored bool) *Console {
	if w == nil {
		w = color.Output
	}
	return &Console{w: w, colored: colored}
}

func (c *Console) Start(bitrate uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = 0
	fmt.Fprintf(c.w, "--- started at %d kbit/s\n", bitrate)
}

func (c *Console) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "--- stopped after %d frames\n", c.frames)
}

func (c *Console) Log(e comm.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	ts := e.Time.Format("15:04:05.000000")
	if !c.colored {
		fmt.Fprintf(c.w, "%s %s %s\n", ts, e.Direction, e.Frame.String())
		return
	}
	marker := rxMarker
	if e.Direction == comm.TX {
		marker = txMarker
	}
	fmt.Fprintf(c.w, "%s %s %s\n", ts, marker, e.Frame.ColorString())
}

func (c *Console) Event(e comm.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := eventColor[e.Type]; ok && c.colored {
		col.Fprintln(c.w, e.String())
		return
	}
	fmt.Fprintln(c.w, e.String())
}
