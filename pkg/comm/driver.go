// Package comm wraps one Dispatcher client with queued and cyclic
// transmission, bus statistics and fan-out of all traffic to loggers.
package comm

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/roffe/kefexcan"
	"github.com/rs/zerolog"
)

// Stats is a snapshot of the driver counters.
type Stats struct {
	RX       uint32
	TX       uint32
	TXErrors uint32
	BusLoad  int
	Overflow bool
}

// Driver is driven by calling DistributeMessages from one loop, typically a
// ticker. Loggers are called from that loop and must not call back into the
// Driver.
type Driver struct {
	log       zerolog.Logger
	now       func() time.Time
	filter    *kefexcan.RxFilter
	queueSize int

	mu         sync.Mutex
	disp       *kefexcan.Dispatcher
	handle     kefexcan.ClientHandle
	registered bool
	running    bool
	paused     bool
	bitrate    uint32
	loggers    []Logger
	queued     []kefexcan.TxFrame
	cyclic     []*CyclicMessage

	rx, tx, txErrors uint32
	bits             uint64
	load             int
	lastLoad         time.Time
}

type Option func(*Driver)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Driver) {
		d.log = l
	}
}

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// WithFilter restricts the frames the driver sees, default is all frames.
func WithFilter(f kefexcan.RxFilter) Option {
	return func(d *Driver) {
		d.filter = &f
	}
}

func WithQueueSize(n int) Option {
	return func(d *Driver) {
		d.queueSize = n
	}
}

func New(disp *kefexcan.Dispatcher, opts ...Option) *Driver {
	d := &Driver{
		disp: disp,
		log:  zerolog.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetDispatcher attaches a dispatcher, the driver must be stopped.
func (d *Driver) SetDispatcher(disp *kefexcan.Dispatcher) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("%w: driver is running", kefexcan.ErrConfiguration)
	}
	d.releaseClient()
	d.disp = disp
	return nil
}

func (d *Driver) AddLogger(l Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loggers = append(d.loggers, l)
	if d.running {
		l.Start(d.bitrate)
	}
}

func (d *Driver) RemoveLogger(l Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, o := range d.loggers {
		if o == l {
			d.loggers = append(d.loggers[:i], d.loggers[i+1:]...)
			return
		}
	}
}

// Start obtains a dispatcher client if needed, resets all counters and
// notifies the loggers. bitrate is in kbit/s.
func (d *Driver) Start(bitrate uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disp == nil {
		return fmt.Errorf("%w: no dispatcher attached", kefexcan.ErrConfiguration)
	}
	if !d.registered {
		h, err := d.disp.RegisterClient(d.filter, d.queueSize)
		if err != nil {
			return fmt.Errorf("%w: no dispatcher client: %v", kefexcan.ErrConfiguration, err)
		}
		d.handle = h
		d.registered = true
	} else if err := d.disp.ClearQueue(d.handle); err != nil {
		return fmt.Errorf("%w: %v", kefexcan.ErrConfiguration, err)
	}
	d.bitrate = bitrate
	d.resetCounters()
	d.lastLoad = d.now()
	d.running = true
	d.paused = false
	for _, l := range d.loggers {
		l.Start(bitrate)
	}
	d.notify(EventTypeInfo, fmt.Sprintf("started at %d kbit/s", bitrate))
	return nil
}

// Stop halts transmission and zeroes bus load and counters.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.notify(EventTypeInfo, "stopped")
	d.running = false
	d.paused = false
	d.resetCounters()
	for _, l := range d.loggers {
		l.Stop()
	}
}

// Pause suppresses logger notification, the client stays registered and
// traffic keeps being drained.
func (d *Driver) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

func (d *Driver) Continue() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
}

// Close stops the driver and releases its dispatcher client.
func (d *Driver) Close() error {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseClient()
}

func (d *Driver) releaseClient() error {
	if !d.registered {
		return nil
	}
	d.registered = false
	return d.disp.RemoveClient(d.handle)
}

func (d *Driver) resetCounters() {
	d.rx, d.tx, d.txErrors = 0, 0, 0
	d.bits = 0
	d.load = 0
}

// SendQueued adds f to the list flushed on the next DistributeMessages.
func (d *Driver) SendQueued(f kefexcan.TxFrame) {
	d.mu.Lock()
	d.queued = append(d.queued, f)
	d.mu.Unlock()
}

// SendDirect transmits f right away. A sent frame is reported to the
// loggers as TX entry.
func (d *Driver) SendDirect(f kefexcan.TxFrame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendDirect(f)
}

func (d *Driver) sendDirect(f kefexcan.TxFrame) error {
	if d.disp == nil {
		return fmt.Errorf("%w: no dispatcher attached", kefexcan.ErrConfiguration)
	}
	if err := d.disp.Send(f); err != nil {
		saturatingInc(&d.txErrors)
		d.log.Debug().Err(err).Uint32("id", f.ID).Msg("send failed")
		d.notify(EventTypeError, err.Error())
		if errors.Is(err, kefexcan.ErrCommunication) {
			return err
		}
		return fmt.Errorf("%w: %v", kefexcan.ErrCommunication, err)
	}
	saturatingInc(&d.tx)
	now := d.now()
	d.bits += uint64(FrameBits(f.DLC, f.Extended))
	d.emit(Entry{Frame: f.Rx(uint64(now.UnixMicro())), Direction: TX, Time: now})
	return nil
}

func (d *Driver) AddCyclicMessage(msg CyclicMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg.nextDue = d.now()
	d.cyclic = append(d.cyclic, &msg)
}

// RemoveCyclicMessage removes the first registration equal to msg.
func (d *Driver) RemoveCyclicMessage(msg CyclicMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, c := range d.cyclic {
		if c.Equal(msg) {
			d.cyclic = append(d.cyclic[:i], d.cyclic[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: cyclic message 0x%03X", kefexcan.ErrNotFound, msg.Frame.ID)
}

func (d *Driver) RemoveAllCyclic() {
	d.mu.Lock()
	d.cyclic = nil
	d.mu.Unlock()
}

func (d *Driver) CyclicMessages() []CyclicMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]CyclicMessage, 0, len(d.cyclic))
	for _, c := range d.cyclic {
		out = append(out, *c)
	}
	return out
}

// DistributeMessages is the per tick pump: flush queued frames, send due
// cyclic frames, poll the dispatcher once, drain the client queue into the
// loggers and update the bus load once per second.
func (d *Driver) DistributeMessages() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return nil
	}

	queued := d.queued
	d.queued = nil
	for _, f := range queued {
		d.sendDirect(f)
	}

	now := d.now()
	kept := d.cyclic[:0]
	for _, c := range d.cyclic {
		if c.due(now) {
			d.sendDirect(c.Frame)
			if c.Interval == 0 {
				continue
			}
			c.reschedule(now)
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(d.cyclic); i++ {
		d.cyclic[i] = nil
	}
	d.cyclic = kept

	dispErr := d.disp.DispatchIncoming()
	if dispErr != nil {
		d.notify(EventTypeError, dispErr.Error())
	}
	for {
		f, err := d.disp.ReadFromQueue(d.handle)
		if err != nil {
			break
		}
		saturatingInc(&d.rx)
		d.bits += uint64(FrameBits(f.DLC, f.Extended))
		d.emit(Entry{Frame: f, Direction: RX, Time: d.now()})
	}

	now = d.now()
	if elapsed := now.Sub(d.lastLoad); elapsed >= loadWindow {
		d.load = busLoad(d.bits, d.bitrate, elapsed)
		d.bits = 0
		d.lastLoad = now
	}
	return dispErr
}

func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Stats{RX: d.rx, TX: d.tx, TXErrors: d.txErrors, BusLoad: d.load}
	if d.registered {
		_, st.Overflow, _ = d.disp.QueueStatus(d.handle)
	}
	return st
}

func (d *Driver) BusLoad() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load
}

func (d *Driver) emit(e Entry) {
	if d.paused {
		return
	}
	for _, l := range d.loggers {
		l.Log(e)
	}
}

func (d *Driver) notify(t EventType, details string) {
	if d.paused {
		return
	}
	now := d.now()
	for _, l := range d.loggers {
		l.Event(Event{Type: t, Details: details, Time: now})
	}
}

func saturatingInc(c *uint32) {
	if *c < math.MaxUint32 {
		*c++
	}
}
