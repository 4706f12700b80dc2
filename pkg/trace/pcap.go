package trace

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/pkg/comm"
)

// LinkTypeCAN is LINKTYPE_CAN_SOCKETCAN, gopacket has no constant for it.
const LinkTypeCAN layers.LinkType = 227

const (
	canEFFFlag  = 0x80000000
	canRTRFlag  = 0x40000000
	canFrameLen = 16
)

// Pcap captures frames in SocketCAN layout, readable by wireshark.
type Pcap struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	buf    *bufio.Writer
	closer io.Closer
	err    error
	count  int
}

// NewPcap writes the file header to w.
func NewPcap(w io.Writer) (*Pcap, error) {
	p := &Pcap{buf: bufio.NewWriter(w)}
	p.w = pcapgo.NewWriter(p.buf)
	if err := p.w.WriteFileHeader(canFrameLen, LinkTypeCAN); err != nil {
		return nil, fmt.Errorf("%w: pcap header: %v", kefexcan.ErrIO, err)
	}
	return p, nil
}

// CreatePcap creates path and captures into it until Close.
func CreatePcap(path string) (*Pcap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kefexcan.ErrIO, err)
	}
	p, err := NewPcap(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.closer = f
	return p, nil
}

// SocketCAN encodes f as a struct can_frame with the id in network order.
func SocketCAN(f kefexcan.RxFrame) []byte {
	id := f.ID
	if f.Extended {
		id |= canEFFFlag
	}
	if f.RTR {
		id |= canRTRFlag
	}
	b := make([]byte, canFrameLen)
	binary.BigEndian.PutUint32(b, id)
	b[4] = f.DLC
	copy(b[8:], f.Payload())
	return b
}

func (p *Pcap) Start(uint32) {}

func (p *Pcap) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.buf.Flush(); err != nil && p.err == nil {
		p.err = err
	}
}

func (p *Pcap) Log(e comm.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return
	}
	data := SocketCAN(e.Frame)
	ci := gopacket.CaptureInfo{
		Timestamp:     e.Time,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := p.w.WritePacket(ci, data); err != nil {
		p.err = err
		return
	}
	p.count++
}

func (p *Pcap) Event(comm.Event) {}

// Count returns the number of captured frames.
func (p *Pcap) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Err returns the first write error, capturing stops after it.
func (p *Pcap) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pcap) Close() error {
	p.Stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closer != nil {
		if err := p.closer.Close(); err != nil && p.err == nil {
			p.err = err
		}
		p.closer = nil
	}
	return p.err
}
