package adapter

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/roffe/kefexcan"
)

func init() {
	if err := kefexcan.RegisterChannel(&kefexcan.ChannelInfo{
		Name:               "SLCAN",
		Description:        "Lawicel ASCII protocol over a serial port (CANable, CANUSB VCP)",
		RequiresSerialPort: true,
		Capabilities:       slcanCapabilities,
		New:                NewSLCAN,
	}); err != nil {
		panic(err)
	}
}

const (
	slcanCapabilities   = kefexcan.CapExtendedID | kefexcan.CapRTR | kefexcan.CapTimestamps
	slcanDefaultBaud    = 115200
	slcanRecvBufferSize = 512
)

var slcanBitrates = map[uint32]string{
	10:   "S0",
	20:   "S1",
	50:   "S2",
	100:  "S3",
	125:  "S4",
	250:  "S5",
	500:  "S6",
	800:  "S7",
	1000: "S8",
}

// SLCAN talks the Lawicel ASCII protocol. A reader goroutine parses the
// serial stream into a bounded receive buffer.
type SLCAN struct {
	cfg    *kefexcan.ChannelConfig
	log    zerolog.Logger
	port   serial.Port
	recv   chan kefexcan.RxFrame
	start  time.Time
	closed atomic.Bool
	err    atomic.Pointer[error]
	wg     sync.WaitGroup
}

func NewSLCAN(cfg *kefexcan.ChannelConfig) (kefexcan.Channel, error) {
	return &SLCAN{
		cfg:  cfg,
		log:  cfg.Logger.With().Str("channel", "SLCAN").Logger(),
		recv: make(chan kefexcan.RxFrame, slcanRecvBufferSize),
	}, nil
}

func (sl *SLCAN) Name() string {
	return "SLCAN"
}

func (sl *SLCAN) Capabilities() kefexcan.Capabilities {
	return slcanCapabilities
}

func (sl *SLCAN) Open(path string) error {
	if sl.port != nil {
		return fmt.Errorf("%w: %s already open", kefexcan.ErrConfiguration, path)
	}
	baud := sl.cfg.PortBaudrate
	if baud == 0 {
		baud = slcanDefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return fmt.Errorf("%w: failed to open com port %q: %v", kefexcan.ErrIO, path, err)
	}
	if err := p.SetReadTimeout(time.Millisecond); err != nil {
		p.Close()
		return fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	p.ResetOutputBuffer()
	p.ResetInputBuffer()
	sl.port = p
	sl.start = time.Now()
	sl.reset()
	sl.wg.Add(1)
	go sl.recvManager()
	return nil
}

func (sl *SLCAN) Init(bitrate uint32) error {
	if sl.port == nil {
		return fmt.Errorf("%w: slcan port not open", kefexcan.ErrConfiguration)
	}
	cmd, ok := slcanBitrates[bitrate]
	if !ok {
		return fmt.Errorf("%w: slcan does not support %d kbit/s", kefexcan.ErrOutOfRange, bitrate)
	}
	for _, c := range []string{"C", cmd, "O"} {
		if err := sl.write([]byte(c + "\r")); err != nil {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (sl *SLCAN) ReadOneFrame() (kefexcan.RxFrame, error) {
	select {
	case f := <-sl.recv:
		return f, nil
	default:
	}
	if p := sl.err.Load(); p != nil {
		return kefexcan.RxFrame{}, *p
	}
	return kefexcan.RxFrame{}, kefexcan.ErrNoData
}

func (sl *SLCAN) SendOneFrame(f kefexcan.TxFrame) error {
	b, err := encodeSLCAN(f)
	if err != nil {
		return err
	}
	if sl.cfg.Debug {
		sl.log.Debug().Msgf(">> %q", b)
	}
	return sl.write(b)
}

func (sl *SLCAN) write(b []byte) error {
	if sl.port == nil || sl.closed.Load() {
		return fmt.Errorf("%w: slcan port closed", kefexcan.ErrIO)
	}
	if _, err := sl.port.Write(b); err != nil {
		return fmt.Errorf("%w: failed to write to com port: %v", kefexcan.ErrIO, err)
	}
	return nil
}

func (sl *SLCAN) Close() error {
	if sl.port == nil {
		return nil
	}
	sl.write([]byte("C\r"))
	sl.closed.Store(true)
	err := sl.port.Close()
	sl.wg.Wait()
	sl.port = nil
	return err
}

func (sl *SLCAN) fail(err error) {
	sl.err.Store(&err)
}

// reset forgets the read error and frames left over from a previous session.
func (sl *SLCAN) reset() {
	sl.closed.Store(false)
	sl.err.Store(nil)
	for {
		select {
		case <-sl.recv:
		default:
			return
		}
	}
}

func (sl *SLCAN) recvManager() {
	defer sl.wg.Done()
	buff := bytes.NewBuffer(nil)
	readBuffer := make([]byte, 64)
	for {
		n, err := sl.port.Read(readBuffer)
		if err != nil {
			if !sl.closed.Load() {
				sl.fail(fmt.Errorf("%w: failed to read com port: %v", kefexcan.ErrIO, err))
			}
			return
		}
		if sl.closed.Load() {
			return
		}
		if n == 0 {
			continue
		}
		sl.parse(buff, readBuffer[:n])
	}
}

func (sl *SLCAN) parse(buff *bytes.Buffer, data []byte) {
	for _, b := range data {
		switch b {
		case '\r':
			if buff.Len() > 0 {
				sl.handleLine(buff.Bytes())
			}
			buff.Reset()
		case 0x07: // bell, last command was rejected
			sl.log.Warn().Msg("adapter rejected command")
			buff.Reset()
		default:
			buff.WriteByte(b)
		}
	}
}

func (sl *SLCAN) handleLine(line []byte) {
	switch line[0] {
	case 't', 'T', 'r', 'R':
		if sl.cfg.Debug {
			sl.log.Debug().Msgf("<< %q", line)
		}
		f, err := decodeSLCAN(line)
		if err != nil {
			sl.log.Warn().Err(err).Msg("failed to decode frame")
			return
		}
		f.Timestamp = uint64(time.Since(sl.start).Microseconds())
		select {
		case sl.recv <- f:
		default:
			sl.log.Debug().Uint32("id", f.ID).Msg("receive buffer full, frame dropped")
		}
	case 'z', 'Z':
		// transmit acknowledge
	default:
		sl.log.Debug().Msgf("unknown >> %q", line)
	}
}

// encodeSLCAN formats f as a t/T/r/R command including the trailing CR.
func encodeSLCAN(f kefexcan.TxFrame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var cmd byte
	var id string
	switch {
	case f.Extended && f.RTR:
		cmd, id = 'R', fmt.Sprintf("%08X", f.ID)
	case f.Extended:
		cmd, id = 'T', fmt.Sprintf("%08X", f.ID)
	case f.RTR:
		cmd, id = 'r', fmt.Sprintf("%03X", f.ID)
	default:
		cmd, id = 't', fmt.Sprintf("%03X", f.ID)
	}
	out := append([]byte{cmd}, id...)
	out = append(out, '0'+f.DLC)
	if !f.RTR {
		out = append(out, bytes.ToUpper([]byte(hex.EncodeToString(f.Payload())))...)
	}
	return append(out, '\r'), nil
}

var errShortLine = errors.New("short slcan frame")

// decodeSLCAN parses one received frame line without the CR. A trailing
// four digit adapter timestamp is ignored.
func decodeSLCAN(line []byte) (kefexcan.RxFrame, error) {
	var f kefexcan.RxFrame
	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		f.Extended, idLen = true, 8
	case 'r':
		f.RTR = true
	case 'R':
		f.Extended, f.RTR, idLen = true, true, 8
	default:
		return f, fmt.Errorf("%w: unknown frame type %q", kefexcan.ErrCommunication, line[0])
	}
	if len(line) < 2+idLen {
		return f, fmt.Errorf("%w: %w %q", kefexcan.ErrCommunication, errShortLine, line)
	}
	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return f, fmt.Errorf("%w: failed to decode identifier: %v", kefexcan.ErrCommunication, err)
	}
	f.ID = uint32(id)
	dlc := line[1+idLen] - '0'
	if dlc > kefexcan.MaxDLC {
		return f, fmt.Errorf("%w: dlc %q", kefexcan.ErrCommunication, line[1+idLen])
	}
	f.DLC = dlc
	if !f.RTR {
		body := line[2+idLen:]
		if len(body) < 2*int(dlc) {
			return f, fmt.Errorf("%w: %w %q", kefexcan.ErrCommunication, errShortLine, line)
		}
		if _, err := hex.Decode(f.Data[:], body[:2*int(dlc)]); err != nil {
			return f, fmt.Errorf("%w: failed to decode frame body: %v", kefexcan.ErrCommunication, err)
		}
	}
	return f, f.Validate()
}
