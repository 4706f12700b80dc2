package adapter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/roffe/kefexcan"
)

func init() {
	if err := kefexcan.RegisterChannel(&kefexcan.ChannelInfo{
		Name:         "SocketCAN",
		Description:  "Linux raw CAN socket, path is the interface name (can0, vcan0)",
		Capabilities: kefexcan.CapExtendedID | kefexcan.CapRTR | kefexcan.CapTimestamps,
		New: func(cfg *kefexcan.ChannelConfig) (kefexcan.Channel, error) {
			return NewSocketCAN(), nil
		},
	}); err != nil {
		panic(err)
	}
}

const (
	canEFFFlag  = 0x80000000
	canRTRFlag  = 0x40000000
	canErrFlag  = 0x20000000
	canEFFMask  = 0x1FFFFFFF
	canSFFMask  = 0x7FF
	canFrameLen = 16
)

// SocketCAN reads and writes struct can_frame on a non blocking raw socket.
// The bitrate is owned by the kernel interface configuration.
type SocketCAN struct {
	fd    int
	iface string
	start time.Time
}

func NewSocketCAN() *SocketCAN {
	return &SocketCAN{fd: -1}
}

func (s *SocketCAN) Name() string {
	return "SocketCAN"
}

func (s *SocketCAN) Capabilities() kefexcan.Capabilities {
	return kefexcan.CapExtendedID | kefexcan.CapRTR | kefexcan.CapTimestamps
}

func (s *SocketCAN) Open(path string) error {
	if s.fd >= 0 {
		return fmt.Errorf("%w: %s already open", kefexcan.ErrConfiguration, s.iface)
	}
	iface, err := net.InterfaceByName(strings.TrimSpace(path))
	if err != nil {
		return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return fmt.Errorf("%w: socket: %v", kefexcan.ErrIO, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("%w: bind %s: %v", kefexcan.ErrIO, iface.Name, err)
	}
	s.fd = fd
	s.iface = iface.Name
	s.start = time.Now()
	return nil
}

func (s *SocketCAN) Init(bitrate uint32) error {
	if s.fd < 0 {
		return fmt.Errorf("%w: socketcan not open", kefexcan.ErrConfiguration)
	}
	if bitrate == 0 {
		return fmt.Errorf("%w: bitrate 0", kefexcan.ErrOutOfRange)
	}
	return nil
}

func (s *SocketCAN) ReadOneFrame() (kefexcan.RxFrame, error) {
	if s.fd < 0 {
		return kefexcan.RxFrame{}, fmt.Errorf("%w: socketcan not open", kefexcan.ErrIO)
	}
	var buf [canFrameLen]byte
	for {
		n, err := unix.Read(s.fd, buf[:])
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return kefexcan.RxFrame{}, kefexcan.ErrNoData
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return kefexcan.RxFrame{}, fmt.Errorf("%w: read %s: %v", kefexcan.ErrIO, s.iface, err)
		}
		if n != canFrameLen {
			return kefexcan.RxFrame{}, fmt.Errorf("%w: short can_frame of %d bytes", kefexcan.ErrIO, n)
		}
		f, ok := decodeCANFrame(buf[:])
		if !ok {
			// error frames are not bus traffic
			continue
		}
		f.Timestamp = uint64(time.Since(s.start).Microseconds())
		return f, nil
	}
}

func (s *SocketCAN) SendOneFrame(f kefexcan.TxFrame) error {
	if s.fd < 0 {
		return fmt.Errorf("%w: socketcan not open", kefexcan.ErrIO)
	}
	if err := f.Validate(); err != nil {
		return err
	}
	if _, err := unix.Write(s.fd, encodeCANFrame(f)); err != nil {
		return fmt.Errorf("%w: write %s: %v", kefexcan.ErrIO, s.iface, err)
	}
	return nil
}

func (s *SocketCAN) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// can_frame uses host byte order for the identifier.
func encodeCANFrame(f kefexcan.TxFrame) []byte {
	id := f.ID
	if f.Extended {
		id |= canEFFFlag
	}
	if f.RTR {
		id |= canRTRFlag
	}
	b := make([]byte, canFrameLen)
	binary.NativeEndian.PutUint32(b, id)
	b[4] = f.DLC
	copy(b[8:], f.Payload())
	return b
}

func decodeCANFrame(b []byte) (kefexcan.RxFrame, bool) {
	id := binary.NativeEndian.Uint32(b)
	if id&canErrFlag != 0 {
		return kefexcan.RxFrame{}, false
	}
	f := kefexcan.RxFrame{
		Extended: id&canEFFFlag != 0,
		RTR:      id&canRTRFlag != 0,
		DLC:      min(b[4], kefexcan.MaxDLC),
	}
	if f.Extended {
		f.ID = id & canEFFMask
	} else {
		f.ID = id & canSFFMask
	}
	copy(f.Data[:], b[8:8+int(f.DLC)])
	return f, true
}
