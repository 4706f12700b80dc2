// Package kefex implements the KEFEX diagnostic protocol on top of a
// kefexcan Dispatcher client.
//
// A Driver talks to one server over two 11 bit identifiers derived from a
// base id and the client and server addresses. Single frame services are
// sent with the Send* methods and confirmed with EvaluateResponses, cyclic
// telemetry and ECU reset indications are delivered to callbacks while
// responses are evaluated. Values longer than one frame are transferred
// with ReadSegmented and WriteSegmented.
//
// A Driver keeps a single "last response" slot and is not safe for
// concurrent use by several goroutines issuing confirmed services.
package kefex

import (
	"fmt"
	"runtime"
	"time"

	"github.com/roffe/kefexcan"
	"github.com/rs/zerolog"
)

const DefaultTimeout = 250 * time.Millisecond

type Config struct {
	BaseID        uint32
	ClientAddress uint8
	ServerAddress uint8
}

// RequestID is the identifier of client to server frames.
func (c Config) RequestID() uint32 {
	return c.BaseID | uint32(c.ClientAddress)<<1
}

// ResponseID is the identifier of server to client frames.
func (c Config) ResponseID() uint32 {
	return c.BaseID | uint32(c.ServerAddress)<<1 | 1
}

func (c Config) Validate() error {
	if c.RequestID() > kefexcan.MaxStandardID || c.ResponseID() > kefexcan.MaxStandardID {
		return fmt.Errorf("%w: base 0x%03X with client %d and server %d exceeds 11 bit identifiers",
			kefexcan.ErrConfiguration, c.BaseID, c.ClientAddress, c.ServerAddress)
	}
	if c.RequestID() == c.ResponseID() {
		return fmt.Errorf("%w: request and response identifier are equal", kefexcan.ErrConfiguration)
	}
	return nil
}

// Telemetry is one unsolicited cyclic transmission of a subscribed variable.
type Telemetry struct {
	Service     byte
	Index       uint16
	Timestamped bool
	// Timestamp is the server time in milliseconds, only set when Timestamped.
	Timestamp uint16
	Data      []byte
}

type Driver struct {
	cfg   Config
	log   zerolog.Logger
	now   func() time.Time
	sleep func(time.Duration)

	disp       *kefexcan.Dispatcher
	handle     kefexcan.ClientHandle
	registered bool

	last      Response
	lastValid bool

	onTelemetry func(Telemetry)
	onReset     func()
	onProgress  func(done, total int)
}

type Option func(*Driver)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Driver) {
		d.log = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// WithSleep replaces the function used for STmin spacing.
func WithSleep(sleep func(time.Duration)) Option {
	return func(d *Driver) {
		d.sleep = sleep
	}
}

func WithTelemetryHandler(fn func(Telemetry)) Option {
	return func(d *Driver) {
		d.onTelemetry = fn
	}
}

func WithResetHandler(fn func()) Option {
	return func(d *Driver) {
		d.onReset = fn
	}
}

// WithProgress reports the bytes transferred by segmented reads and writes.
func WithProgress(fn func(done, total int)) Option {
	return func(d *Driver) {
		d.onProgress = fn
	}
}

func New(cfg Config, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Driver{
		cfg:   cfg,
		log:   zerolog.Nop(),
		now:   time.Now,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Driver) Config() Config {
	return d.cfg
}

// SetDispatcher attaches the driver to disp, registering a client that
// only receives the response identifier. A previous client is released.
func (d *Driver) SetDispatcher(disp *kefexcan.Dispatcher) error {
	if err := d.Close(); err != nil {
		return err
	}
	if disp == nil {
		d.disp = nil
		return nil
	}
	flt := kefexcan.PassOneID(d.cfg.ResponseID(), false, false)
	h, err := disp.RegisterClient(&flt, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", kefexcan.ErrConfiguration, err)
	}
	d.disp = disp
	d.handle = h
	d.registered = true
	d.lastValid = false
	return nil
}

func (d *Driver) SetTelemetryHandler(fn func(Telemetry)) {
	d.onTelemetry = fn
}

func (d *Driver) SetResetHandler(fn func()) {
	d.onReset = fn
}

func (d *Driver) SetProgressHandler(fn func(done, total int)) {
	d.onProgress = fn
}

func (d *Driver) progress(done, total int) {
	if d.onProgress != nil {
		d.onProgress(done, total)
	}
}

// Close releases the dispatcher client.
func (d *Driver) Close() error {
	if !d.registered {
		return nil
	}
	d.registered = false
	return d.disp.RemoveClient(d.handle)
}

func (d *Driver) send(payload []byte) error {
	if !d.registered {
		return fmt.Errorf("%w: no dispatcher attached", kefexcan.ErrConfiguration)
	}
	f, err := kefexcan.NewFrame(d.cfg.RequestID(), payload)
	if err != nil {
		return err
	}
	d.log.Trace().Str("frame", f.String()).Msg("send")
	if err := d.disp.Send(f); err != nil {
		return fmt.Errorf("%w: %s: %v", kefexcan.ErrCommunication, ServiceName(payload[1]), err)
	}
	return nil
}

// receive returns the next queued frame, polling the dispatcher when the
// queue is empty. ok is false when nothing is pending.
func (d *Driver) receive() (f kefexcan.RxFrame, ok bool, err error) {
	if !d.registered {
		return f, false, fmt.Errorf("%w: no dispatcher attached", kefexcan.ErrConfiguration)
	}
	if f, err := d.disp.ReadFromQueue(d.handle); err == nil {
		d.log.Trace().Str("frame", f.String()).Msg("recv")
		return f, true, nil
	}
	if err := d.disp.DispatchIncoming(); err != nil {
		return f, false, err
	}
	if f, err := d.disp.ReadFromQueue(d.handle); err == nil {
		d.log.Trace().Str("frame", f.String()).Msg("recv")
		return f, true, nil
	}
	return f, false, nil
}

// nextFrame waits for the next frame addressed to this client.
func (d *Driver) nextFrame(service byte, timeout time.Duration, deadline time.Time) ([]byte, error) {
	for {
		f, ok, err := d.receive()
		if err != nil {
			return nil, err
		}
		if ok {
			if p := f.Payload(); len(p) >= 2 && p[0] == d.cfg.ClientAddress {
				return p, nil
			}
		}
		if !d.now().Before(deadline) {
			return nil, &kefexcan.TimeoutError{Timeout: timeout, Service: service, Type: ServiceName(service)}
		}
		if !ok {
			runtime.Gosched()
		}
	}
}
