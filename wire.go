package kefexcan

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire layout (little-endian):
//
//	0..3  arbitration id
//	4     extended flag
//	5     dlc (0..8)
//	6     rtr flag
//	7..   dlc payload bytes
//	      8 byte microsecond timestamp, RX frames only
const (
	wireHeaderLen    = 7
	wireTimestampLen = 8
)

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendWire(buf []byte, id uint32, extended, rtr bool, dlc uint8, data []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, id)
	buf = append(buf, boolByte(extended), dlc, boolByte(rtr))
	return append(buf, data...)
}

// MarshalBinary encodes the frame in wire layout without timestamp.
func (f TxFrame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return appendWire(make([]byte, 0, wireHeaderLen+int(f.DLC)), f.ID, f.Extended, f.RTR, f.DLC, f.Payload()), nil
}

func (f *TxFrame) UnmarshalBinary(data []byte) error {
	rx, n, err := decodeWire(data, false)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrOutOfRange, len(data)-n)
	}
	*f = rx.Tx()
	return nil
}

// MarshalBinary encodes the frame in wire layout including the timestamp.
func (f RxFrame) MarshalBinary() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := appendWire(make([]byte, 0, wireHeaderLen+int(f.DLC)+wireTimestampLen), f.ID, f.Extended, f.RTR, f.DLC, f.Payload())
	return binary.LittleEndian.AppendUint64(buf, f.Timestamp), nil
}

func (f *RxFrame) UnmarshalBinary(data []byte) error {
	rx, n, err := decodeWire(data, true)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrOutOfRange, len(data)-n)
	}
	*f = rx
	return nil
}

func decodeWire(data []byte, withTimestamp bool) (RxFrame, int, error) {
	if len(data) < wireHeaderLen {
		return RxFrame{}, 0, fmt.Errorf("%w: need %d header bytes, got %d", ErrOutOfRange, wireHeaderLen, len(data))
	}
	f := RxFrame{
		ID:       binary.LittleEndian.Uint32(data[0:4]),
		Extended: data[4] != 0,
		DLC:      data[5],
		RTR:      data[6] != 0,
	}
	if err := f.Validate(); err != nil {
		return RxFrame{}, 0, err
	}
	n := wireHeaderLen + int(f.DLC)
	need := n
	if withTimestamp {
		need += wireTimestampLen
	}
	if len(data) < need {
		return RxFrame{}, 0, fmt.Errorf("%w: need %d bytes, got %d", ErrOutOfRange, need, len(data))
	}
	copy(f.Data[:], data[wireHeaderLen:n])
	if withTimestamp {
		f.Timestamp = binary.LittleEndian.Uint64(data[n:need])
	}
	return f, need, nil
}

// ReadWire reads exactly one wire encoded frame from r.
func ReadWire(r io.Reader, withTimestamp bool) (RxFrame, error) {
	var buf [wireHeaderLen + MaxDLC + wireTimestampLen]byte
	if _, err := io.ReadFull(r, buf[:wireHeaderLen]); err != nil {
		return RxFrame{}, err
	}
	dlc := int(buf[5])
	if dlc > MaxDLC {
		return RxFrame{}, fmt.Errorf("%w: dlc %d", ErrOutOfRange, dlc)
	}
	n := wireHeaderLen + dlc
	if withTimestamp {
		n += wireTimestampLen
	}
	if _, err := io.ReadFull(r, buf[wireHeaderLen:n]); err != nil {
		return RxFrame{}, err
	}
	f, _, err := decodeWire(buf[:n], withTimestamp)
	return f, err
}
