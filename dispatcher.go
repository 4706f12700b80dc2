package kefexcan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxClients = 32
	DefaultQueueSize  = 2048
)

// Dispatcher takes care of fanning out frames from one Channel to any
// number of registered clients, each with its own filter and bounded queue.
//
// A single lock guards the client table and every queue. DispatchIncoming is
// meant to be driven by one polling loop, all other methods are safe to call
// from any goroutine.
type Dispatcher struct {
	ch         Channel
	log        zerolog.Logger
	maxClients int
	queueSize  int

	mu      sync.Mutex
	clients map[ClientHandle]*dispatchClient
	order   []*dispatchClient
	next    ClientHandle
}

type DispatcherOption func(*Dispatcher)

func WithMaxClients(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxClients = n
		}
	}
}

// WithQueueSize sets the queue size used when RegisterClient gets size 0.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func WithDispatcherLogger(l zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// NewDispatcher takes ownership of ch, ch must already be opened.
func NewDispatcher(ch Channel, opts ...DispatcherOption) (*Dispatcher, error) {
	if ch == nil {
		return nil, ErrNilChannel
	}
	d := &Dispatcher{
		ch:         ch,
		log:        zerolog.Nop(),
		maxClients: DefaultMaxClients,
		queueSize:  DefaultQueueSize,
		clients:    make(map[ClientHandle]*dispatchClient),
		next:       1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Dispatcher) Channel() Channel {
	return d.ch
}

// RegisterClient adds a client with the given filter, nil means pass all.
// queueSize 0 uses the dispatcher default.
func (d *Dispatcher) RegisterClient(filter *RxFilter, queueSize int) (ClientHandle, error) {
	if queueSize < 0 {
		return 0, fmt.Errorf("%w: queue size %d", ErrOutOfRange, queueSize)
	}
	if queueSize == 0 {
		queueSize = d.queueSize
	}
	flt := PassAll()
	if filter != nil {
		flt = *filter
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) >= d.maxClients {
		return 0, fmt.Errorf("%w: client table full (%d)", ErrResourceExhausted, d.maxClients)
	}
	h := d.next
	d.next++
	c := newDispatchClient(h, flt, queueSize)
	d.clients[h] = c
	d.order = append(d.order, c)
	d.log.Debug().Uint32("client", uint32(h)).Int("queue", queueSize).Msg("client registered")
	return h, nil
}

func (d *Dispatcher) RemoveClient(h ClientHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[h]
	if !ok {
		return fmt.Errorf("%w: client %d", ErrNotFound, h)
	}
	delete(d.clients, h)
	for i, o := range d.order {
		if o == c {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.log.Debug().Uint32("client", uint32(h)).Uint64("dropped", c.dropped).Msg("client removed")
	return nil
}

// SetRXFilter replaces the filter of a client, frames already queued stay.
func (d *Dispatcher) SetRXFilter(h ClientHandle, filter RxFilter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[h]
	if !ok {
		return fmt.Errorf("%w: client %d", ErrNotFound, h)
	}
	c.filter = filter
	return nil
}

// DispatchIncoming reads every frame currently available from the channel
// and queues it for each client whose filter matches. It never blocks
// waiting for new frames.
func (d *Dispatcher) DispatchIncoming() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		f, err := d.ch.ReadOneFrame()
		if err != nil {
			if errors.Is(err, ErrNoData) {
				return nil
			}
			return fmt.Errorf("%w: read frame: %v", ErrCommunication, err)
		}
		d.deliver(f)
	}
}

func (d *Dispatcher) deliver(f RxFrame) {
	for _, c := range d.order {
		if !c.filter.Matches(f) {
			continue
		}
		if !c.push(f) {
			d.log.Debug().Uint32("client", uint32(c.handle)).Uint32("id", f.ID).Msg("queue full, frame dropped")
		}
	}
}

// ReadFromQueue pops the oldest frame queued for the client, ErrNotFound
// when the queue is empty or the client is unknown.
func (d *Dispatcher) ReadFromQueue(h ClientHandle) (RxFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[h]
	if !ok {
		return RxFrame{}, fmt.Errorf("%w: client %d", ErrNotFound, h)
	}
	f, ok := c.pop()
	if !ok {
		return RxFrame{}, fmt.Errorf("%w: queue of client %d empty", ErrNotFound, h)
	}
	return f, nil
}

func (d *Dispatcher) ClearQueue(h ClientHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[h]
	if !ok {
		return fmt.Errorf("%w: client %d", ErrNotFound, h)
	}
	c.clear()
	return nil
}

// QueueStatus returns the number of queued frames and the sticky overflow flag.
func (d *Dispatcher) QueueStatus(h ClientHandle) (int, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[h]
	if !ok {
		return 0, false, fmt.Errorf("%w: client %d", ErrNotFound, h)
	}
	return c.count, c.overflow, nil
}

func (d *Dispatcher) ClearOverflow(h ClientHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[h]
	if !ok {
		return fmt.Errorf("%w: client %d", ErrNotFound, h)
	}
	c.overflow = false
	return nil
}

// Send transmits f on the channel.
func (d *Dispatcher) Send(f TxFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if err := d.ch.SendOneFrame(f); err != nil {
		return fmt.Errorf("%w: send 0x%03X: %v", ErrCommunication, f.ID, err)
	}
	return nil
}

// Close releases every client and closes the channel.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	d.clients = make(map[ClientHandle]*dispatchClient)
	d.order = nil
	d.mu.Unlock()
	return d.ch.Close()
}
