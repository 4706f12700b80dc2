package adapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/roffe/kefexcan"
)

func init() {
	if err := kefexcan.RegisterChannel(&kefexcan.ChannelInfo{
		Name:               "Virtual",
		Description:        "In memory loopback channel",
		RequiresSerialPort: false,
		Capabilities:       virtualCapabilities,
		New: func(cfg *kefexcan.ChannelConfig) (kefexcan.Channel, error) {
			return NewVirtual(true), nil
		},
	}); err != nil {
		panic(err)
	}
}

const virtualCapabilities = kefexcan.CapExtendedID | kefexcan.CapRTR | kefexcan.CapTimestamps |
	kefexcan.CapBusStatus | kefexcan.CapVersion

// Responder is called for every frame sent on a Virtual channel and returns
// the frames the simulated peer answers with.
type Responder func(kefexcan.TxFrame) []kefexcan.RxFrame

// Virtual is an in memory channel. With loopback every sent frame is also
// received, a Responder simulates a peer on the bus.
type Virtual struct {
	mu        sync.Mutex
	loopback  bool
	open      bool
	bitrate   uint32
	rx        []kefexcan.RxFrame
	sent      []kefexcan.TxFrame
	responder Responder
	start     time.Time
	txErrors  uint8
}

func NewVirtual(loopback bool) *Virtual {
	return &Virtual{loopback: loopback, start: time.Now()}
}

// NewVirtualPeer returns an opened and initialised channel answering with r.
func NewVirtualPeer(r Responder) *Virtual {
	v := NewVirtual(false)
	v.open = true
	v.bitrate = 500
	v.responder = r
	return v
}

func (v *Virtual) Name() string {
	return "Virtual"
}

func (v *Virtual) Capabilities() kefexcan.Capabilities {
	return virtualCapabilities
}

func (v *Virtual) Open(string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open = true
	return nil
}

func (v *Virtual) Init(bitrate uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open {
		return fmt.Errorf("%w: virtual channel not open", kefexcan.ErrConfiguration)
	}
	if bitrate == 0 {
		return fmt.Errorf("%w: bitrate 0", kefexcan.ErrOutOfRange)
	}
	v.bitrate = bitrate
	return nil
}

func (v *Virtual) SetResponder(r Responder) {
	v.mu.Lock()
	v.responder = r
	v.mu.Unlock()
}

// Inject queues frames as if they were received from the bus.
func (v *Virtual) Inject(frames ...kefexcan.RxFrame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, f := range frames {
		v.rx = append(v.rx, v.stamp(f))
	}
}

func (v *Virtual) stamp(f kefexcan.RxFrame) kefexcan.RxFrame {
	if f.Timestamp == 0 {
		f.Timestamp = uint64(time.Since(v.start).Microseconds())
	}
	return f
}

// Sent returns a copy of every frame sent so far.
func (v *Virtual) Sent() []kefexcan.TxFrame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]kefexcan.TxFrame(nil), v.sent...)
}

func (v *Virtual) ReadOneFrame() (kefexcan.RxFrame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open {
		return kefexcan.RxFrame{}, fmt.Errorf("%w: virtual channel closed", kefexcan.ErrIO)
	}
	if len(v.rx) == 0 {
		return kefexcan.RxFrame{}, kefexcan.ErrNoData
	}
	f := v.rx[0]
	v.rx = v.rx[1:]
	return f, nil
}

func (v *Virtual) SendOneFrame(f kefexcan.TxFrame) error {
	v.mu.Lock()
	if !v.open {
		if v.txErrors < 255 {
			v.txErrors++
		}
		v.mu.Unlock()
		return fmt.Errorf("%w: virtual channel closed", kefexcan.ErrIO)
	}
	v.sent = append(v.sent, f)
	if v.loopback {
		v.rx = append(v.rx, v.stamp(f.Rx(0)))
	}
	r := v.responder
	v.mu.Unlock()

	if r == nil {
		return nil
	}
	answers := r(f)
	v.Inject(answers...)
	return nil
}

func (v *Virtual) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open = false
	v.rx = nil
	return nil
}

func (v *Virtual) BusStatus() (kefexcan.BusStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return kefexcan.BusStatus{TXErrors: v.txErrors, ErrorPassive: v.txErrors >= 128}, nil
}

func (v *Virtual) Version() (string, error) {
	return "virtual 1.0", nil
}
