package kefexcan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDLC        = 8
)

// TxFrame is a frame to be transmitted.
type TxFrame struct {
	ID       uint32
	Extended bool
	RTR      bool
	DLC      uint8
	Data     [8]byte
}

// RxFrame is a received frame, Timestamp is in microseconds.
type RxFrame struct {
	ID        uint32
	Extended  bool
	RTR       bool
	DLC       uint8
	Data      [8]byte
	Timestamp uint64
}

// NewFrame builds a standard or extended data frame, extended is picked
// when the identifier does not fit 11 bits.
func NewFrame(identifier uint32, data []byte) (TxFrame, error) {
	f := TxFrame{ID: identifier, Extended: identifier > MaxStandardID}
	if len(data) > MaxDLC {
		return TxFrame{}, fmt.Errorf("%w: frame data length %d", ErrOutOfRange, len(data))
	}
	f.DLC = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// MustFrame is NewFrame that panics, only meant for tests and constants.
func MustFrame(identifier uint32, data []byte) TxFrame {
	f, err := NewFrame(identifier, data)
	if err != nil {
		panic(err)
	}
	return f
}

func validate(id uint32, extended bool, dlc uint8) error {
	if dlc > MaxDLC {
		return fmt.Errorf("%w: dlc %d", ErrOutOfRange, dlc)
	}
	if extended && id > MaxExtendedID || !extended && id > MaxStandardID {
		return fmt.Errorf("%w: identifier 0x%X", ErrOutOfRange, id)
	}
	return nil
}

func (f TxFrame) Validate() error {
	return validate(f.ID, f.Extended, f.DLC)
}

func (f TxFrame) Payload() []byte {
	return f.Data[:min(int(f.DLC), MaxDLC)]
}

// Rx returns the frame as seen by a receiver at the given timestamp.
func (f TxFrame) Rx(timestamp uint64) RxFrame {
	return RxFrame{
		ID:        f.ID,
		Extended:  f.Extended,
		RTR:       f.RTR,
		DLC:       f.DLC,
		Data:      f.Data,
		Timestamp: timestamp,
	}
}

func (f RxFrame) Validate() error {
	return validate(f.ID, f.Extended, f.DLC)
}

func (f RxFrame) Payload() []byte {
	return f.Data[:min(int(f.DLC), MaxDLC)]
}

// Tx strips the receive timestamp.
func (f RxFrame) Tx() TxFrame {
	return TxFrame{ID: f.ID, Extended: f.Extended, RTR: f.RTR, DLC: f.DLC, Data: f.Data}
}

var (
	blue  = color.New(color.FgHiBlue).SprintfFunc()
	red   = color.New(color.FgRed).SprintfFunc()
	green = color.New(color.FgGreen).SprintfFunc()
)

func (f TxFrame) String() string {
	return "<o> || " + formatFrame(f.ID, f.Extended, f.RTR, f.Payload(), false)
}

func (f TxFrame) ColorString() string {
	return "<o> || " + formatFrame(f.ID, f.Extended, f.RTR, f.Payload(), true)
}

func (f RxFrame) String() string {
	return "<i> || " + formatFrame(f.ID, f.Extended, f.RTR, f.Payload(), false)
}

func (f RxFrame) ColorString() string {
	return "<i> || " + formatFrame(f.ID, f.Extended, f.RTR, f.Payload(), true)
}

func formatFrame(id uint32, extended, rtr bool, data []byte, colored bool) string {
	var out strings.Builder

	idStr := fmt.Sprintf("0x%03X", id)
	if extended {
		idStr = fmt.Sprintf("0x%08X", id)
	}
	if colored {
		idStr = green(idStr)
	}
	out.WriteString(idStr + " || ")
	out.WriteString(strconv.Itoa(len(data)) + " || ")

	if rtr {
		out.WriteString("RTR")
		return out.String()
	}

	var hexView strings.Builder
	for i, b := range data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(fmt.Sprintf("%-23s", hexView.String()))
	out.WriteString(" || ")

	var binView strings.Builder
	for i, b := range data {
		binView.WriteString(fmt.Sprintf("%08b", b))
		if i != len(data)-1 {
			binView.WriteString(" ")
		}
	}
	if colored {
		out.WriteString(red(fmt.Sprintf("%-71s", binView.String())))
	} else {
		out.WriteString(fmt.Sprintf("%-71s", binView.String()))
	}

	out.WriteString(" || ")
	if colored {
		out.WriteString(blue(onlyPrintable(data)))
	} else {
		out.WriteString(onlyPrintable(data))
	}
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
