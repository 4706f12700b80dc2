package comm

import (
	"math"
	"time"
)

const loadWindow = time.Second

// FrameBits estimates the bits a frame occupies on the bus: the fixed
// frame fields, the payload and a margin for stuff bits.
func FrameBits(dlc uint8, extended bool) uint32 {
	data := uint32(min(dlc, 8)) * 8
	if extended {
		return 64 + data + (54+data)/5
	}
	return 44 + data + (34+data)/5
}

// busLoad computes the bus load in percent for bits seen during elapsed at
// bitrate kbit/s, rounded and clamped to 0..100.
func busLoad(bits uint64, bitrate uint32, elapsed time.Duration) int {
	ms := elapsed.Milliseconds()
	if bitrate == 0 || ms <= 0 {
		return 0
	}
	capacity := float64(bitrate) * 1024 * float64(ms) / 1000
	load := math.Round(float64(bits) / capacity * 100)
	return int(math.Max(0, math.Min(100, load)))
}
