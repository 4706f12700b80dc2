package kefex

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/roffe/kefexcan"
)

const (
	srrConsecutiveData = 6
	iwrConsecutiveData = 5
)

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func communicationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kefexcan.ErrCommunication}, args...)...)
}

func (d *Driver) sendSRRFlowControl(index uint16, blockSize, stMin uint8) error {
	p := appendIndex(d.header(ServiceSRRFlowControl), index)
	return d.send(append(p, blockSize, stMin))
}

// ReadSegmented reads length bytes of variable index. The server answers
// with a first frame, the client grants blocks of blockSize consecutive
// frames spaced by at least stMin milliseconds. timeout applies to every
// awaited frame.
func (d *Driver) ReadSegmented(index uint16, length int, blockSize, stMin uint8, timeout time.Duration) ([]byte, error) {
	if blockSize == 0 {
		return nil, fmt.Errorf("%w: SRR block size 0", kefexcan.ErrConfiguration)
	}
	if length <= 0 || length > MaxSegmentedBytes {
		return nil, outOfRange("SRR length %d", length)
	}
	if err := d.SendSRR(index); err != nil {
		return nil, err
	}

	buf, err := d.awaitSRRFirstFrame(index, length, timeout)
	if err != nil {
		return nil, err
	}
	d.progress(len(buf), length)
	if len(buf) == length {
		return buf, nil
	}

	if err := d.sendSRRFlowControl(index, blockSize, stMin); err != nil {
		return nil, err
	}
	var seq byte = 1
	inBlock := 0
	for len(buf) < length {
		p, err := d.nextFrame(ServiceSRR, timeout, d.now().Add(timeout))
		if err != nil {
			return nil, err
		}
		n := min(srrConsecutiveData, length-len(buf))
		cf := p[1] == seq && isConsecutiveFrame(p, n)
		if !cf && p[1] == ServiceSRR|errorFlag {
			return nil, errorResponse(p)
		}
		if p[1] != seq {
			return nil, communicationf("SRR sequence error, expected %d got %d", seq, p[1])
		}
		if !cf {
			return nil, communicationf("SRR consecutive frame %d carries %d bytes, want %d", seq, len(p)-2, n)
		}
		buf = append(buf, p[2:2+n]...)
		d.progress(len(buf), length)
		seq++
		inBlock++
		if inBlock == int(blockSize) && len(buf) < length {
			if err := d.sendSRRFlowControl(index, blockSize, stMin); err != nil {
				return nil, err
			}
			inBlock = 0
		}
	}
	d.log.Debug().Uint16("index", index).Int("bytes", len(buf)).Msg("SRR segmented read done")
	return buf, nil
}

// isConsecutiveFrame checks the shape of a frame expected to carry n bytes.
// Every frame but the last is full, the last one is exact or padded to 8
// bytes. Sequence number 0x81 collides with an SRR error response, which is
// always 4 bytes long, so the shape decides between the two.
func isConsecutiveFrame(p []byte, n int) bool {
	if n == srrConsecutiveData {
		return len(p) == 2+srrConsecutiveData
	}
	return len(p) == 2+n || len(p) == 2+srrConsecutiveData
}

// awaitSRRFirstFrame returns the first payload byte, or the whole value
// when the server answered with a single SRR response.
func (d *Driver) awaitSRRFirstFrame(index uint16, length int, timeout time.Duration) ([]byte, error) {
	deadline := d.now().Add(timeout)
	for {
		p, err := d.nextFrame(ServiceSRRFirstFrame, timeout, deadline)
		if err != nil {
			return nil, err
		}
		switch p[1] {
		case ServiceSRRFirstFrame:
			if len(p) < 8 {
				return nil, communicationf("SRR first frame too short (%d)", len(p))
			}
			if got := binary.LittleEndian.Uint16(p[2:4]); got != index {
				return nil, communicationf("SRR first frame for index 0x%04X, want 0x%04X", got, index)
			}
			if total := uint24(p[4:7]); int(total) != length {
				return nil, communicationf("SRR announces %d bytes, want %d", total, length)
			}
			return []byte{p[7]}, nil
		case ServiceSRR:
			if len(p) < 4 || binary.LittleEndian.Uint16(p[2:4]) != index {
				return nil, communicationf("SRR response for another index")
			}
			if len(p)-4 != length {
				return nil, communicationf("SRR returned %d bytes, want %d", len(p)-4, length)
			}
			return append([]byte(nil), p[4:]...), nil
		case ServiceSRR | errorFlag, ServiceSRRFirstFrame | errorFlag:
			return nil, errorResponse(p)
		default:
			d.classify(p)
		}
	}
}

// WriteSegmented writes data to variable index. The server grants blocks
// with flow control frames, a block size of 0 lets the client send the
// remainder without further flow control. The server confirms the complete
// transfer with an IWR first frame response.
func (d *Driver) WriteSegmented(index uint16, data []byte, timeout time.Duration) error {
	if len(data) == 0 || len(data) > MaxSegmentedBytes {
		return outOfRange("IWR length %d", len(data))
	}
	p := appendIndex(d.header(ServiceIWRFirstFrame), index)
	p = appendUint24(p, uint32(len(data)))
	if err := d.send(append(p, data[0])); err != nil {
		return err
	}
	d.progress(1, len(data))

	rest := data[1:]
	var seq byte = 1
	for len(rest) > 0 {
		fc, err := d.EvaluateResponses(ServiceIWRFlowControl, timeout)
		if err != nil {
			return err
		}
		if fc.Index != uint32(index) || fc.Size < 2 {
			return communicationf("invalid IWR flow control %s", fc)
		}
		blockSize, stMin := fc.Data[0], fc.Data[1]
		for sent := 0; len(rest) > 0 && (blockSize == 0 || sent < int(blockSize)); sent++ {
			if sent > 0 && stMin > 0 {
				d.sleep(time.Duration(stMin) * time.Millisecond)
			}
			n := min(iwrConsecutiveData, len(rest))
			cf := append(d.header(ServiceIWRConsecutive), seq)
			if err := d.send(append(cf, rest[:n]...)); err != nil {
				return err
			}
			rest = rest[n:]
			d.progress(len(data)-len(rest), len(data))
			seq++
		}
	}

	r, err := d.EvaluateResponses(ServiceIWRFirstFrame, timeout)
	if err != nil {
		return err
	}
	if r.Index != uint32(index) {
		return communicationf("IWR confirmed index 0x%04X, want 0x%04X", r.Index, index)
	}
	d.log.Debug().Uint16("index", index).Int("bytes", len(data)).Msg("IWR segmented write done")
	return nil
}
