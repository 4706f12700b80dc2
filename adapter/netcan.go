package adapter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/roffe/kefexcan"
)

func init() {
	if err := kefexcan.RegisterChannel(&kefexcan.ChannelInfo{
		Name:         "NetCAN",
		Description:  "TCP gateway speaking the kefexcan wire layout, path is host:port",
		Capabilities: kefexcan.CapExtendedID | kefexcan.CapRTR | kefexcan.CapTimestamps,
		New: func(cfg *kefexcan.ChannelConfig) (kefexcan.Channel, error) {
			return NewNetCAN(cfg), nil
		},
	}); err != nil {
		panic(err)
	}
}

const (
	netcanDialTimeout = 3 * time.Second
	netcanRecvBuffer  = 1024
)

// NetCAN forwards frames to a remote gateway. Sent frames are written in
// wire layout without timestamp, the gateway answers with timestamped
// frames.
type NetCAN struct {
	log    zerolog.Logger
	mu     sync.Mutex
	conn   net.Conn
	w      *bufio.Writer
	recv   chan kefexcan.RxFrame
	closed atomic.Bool
	err    atomic.Pointer[error]
	wg     sync.WaitGroup
}

func NewNetCAN(cfg *kefexcan.ChannelConfig) *NetCAN {
	return &NetCAN{
		log:  cfg.Logger.With().Str("channel", "NetCAN").Logger(),
		recv: make(chan kefexcan.RxFrame, netcanRecvBuffer),
	}
}

func (n *NetCAN) Name() string {
	return "NetCAN"
}

func (n *NetCAN) Capabilities() kefexcan.Capabilities {
	return kefexcan.CapExtendedID | kefexcan.CapRTR | kefexcan.CapTimestamps
}

func (n *NetCAN) Open(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		return fmt.Errorf("%w: %s already open", kefexcan.ErrConfiguration, path)
	}
	conn, err := net.DialTimeout("tcp", path, netcanDialTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	n.conn = conn
	n.w = bufio.NewWriter(conn)
	n.closed.Store(false)
	n.err.Store(nil)
	n.wg.Add(1)
	go n.recvManager(conn)
	return nil
}

// Init only checks the argument, the gateway owns the bus timing.
func (n *NetCAN) Init(bitrate uint32) error {
	if bitrate == 0 {
		return fmt.Errorf("%w: bitrate 0", kefexcan.ErrOutOfRange)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return fmt.Errorf("%w: netcan not connected", kefexcan.ErrConfiguration)
	}
	return nil
}

func (n *NetCAN) recvManager(conn net.Conn) {
	defer n.wg.Done()
	r := bufio.NewReader(conn)
	for {
		f, err := kefexcan.ReadWire(r, true)
		if err != nil {
			if !n.closed.Load() {
				if errors.Is(err, io.EOF) {
					err = fmt.Errorf("%w: gateway closed the connection", kefexcan.ErrIO)
				} else {
					err = fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
				}
				n.err.Store(&err)
			}
			return
		}
		select {
		case n.recv <- f:
		default:
			n.log.Debug().Uint32("id", f.ID).Msg("receive buffer full, frame dropped")
		}
	}
}

func (n *NetCAN) ReadOneFrame() (kefexcan.RxFrame, error) {
	select {
	case f := <-n.recv:
		return f, nil
	default:
	}
	if p := n.err.Load(); p != nil {
		return kefexcan.RxFrame{}, *p
	}
	return kefexcan.RxFrame{}, kefexcan.ErrNoData
}

func (n *NetCAN) SendOneFrame(f kefexcan.TxFrame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return fmt.Errorf("%w: netcan not connected", kefexcan.ErrIO)
	}
	if _, err := n.w.Write(b); err != nil {
		return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	if err := n.w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	return nil
}

func (n *NetCAN) Close() error {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()
	if conn == nil {
		return nil
	}
	n.closed.Store(true)
	err := conn.Close()
	n.wg.Wait()
	return err
}
