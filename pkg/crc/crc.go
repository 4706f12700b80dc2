// Package crc implements the table driven checksums protecting KEFEX
// payloads and persisted configuration files.
package crc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math/bits"

	"github.com/sigurn/crc16"
)

const (
	// CRC16Seed is the start value used by protocol and file checksums.
	CRC16Seed uint16 = 0x1D0F
	// CRC32Seed is the start value of a fresh CRC32 computation.
	CRC32Seed uint32 = 0xFFFFFFFF

	misrTaps uint32 = 0x80200003
)

var ErrLengthNotAligned = errors.New("crc: length is not a multiple of 4")

// CCITT polynomial 0x1021, not reflected, no output xor. The seed is
// supplied per call so intermediate results can be chained.
var crc16Table = crc16.MakeTable(crc16.Params{
	Poly:   0x1021,
	Init:   CRC16Seed,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x0000,
	Check:  0xE5CC,
	Name:   "CRC-16/AUG-CCITT",
})

var crc32Table = crc32.MakeTable(crc32.IEEE)

// CRC16 feeds data into crc one byte at a time. CRC16(CRC16(s, a), b)
// equals CRC16(s, a++b).
func CRC16(crc uint16, data []byte) uint16 {
	return crc16.Update(crc, data, crc16Table)
}

// Checksum16 is CRC16 started at CRC16Seed.
func Checksum16(data []byte) uint16 {
	return CRC16(CRC16Seed, data)
}

// CRC32 feeds data into crc using the reflected polynomial 0xEDB88320.
// Neither the start value nor the result are inverted, callers seed with
// CRC32Seed and invert the final value themselves when needed.
func CRC32(crc uint32, data []byte) uint32 {
	return ^crc32.Update(^crc, crc32Table, data)
}

// Checksum32 is the common CRC32 (seed 0xFFFFFFFF, final inversion).
func Checksum32(data []byte) uint32 {
	return ^CRC32(CRC32Seed, data)
}

// MISR32 compacts data as little-endian 32-bit words in a multiple input
// shift register. len(data) must be a multiple of 4.
func MISR32(crc uint32, data []byte) (uint32, error) {
	if len(data)%4 != 0 {
		return crc, fmt.Errorf("%w: %d bytes", ErrLengthNotAligned, len(data))
	}
	for i := 0; i < len(data); i += 4 {
		feedback := uint32(bits.OnesCount32(crc&misrTaps) & 1)
		crc = (crc<<1 | feedback) ^ binary.LittleEndian.Uint32(data[i:])
	}
	return crc, nil
}
