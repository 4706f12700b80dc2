package kefex

import (
	"fmt"

	"github.com/roffe/kefexcan"
)

const (
	MaxHysteresisBase      = 4
	MaxHysteresisMagnitude = 127
)

// Hysteresis is an encoded absolute threshold pair, each bound is
// magnitude * 100^Base.
type Hysteresis struct {
	Base  uint8
	Upper uint8
	Lower uint8
}

func (h Hysteresis) UpperValue() uint64 {
	return uint64(h.Upper) * pow100(h.Base)
}

func (h Hysteresis) LowerValue() uint64 {
	return uint64(h.Lower) * pow100(h.Base)
}

func pow100(base uint8) uint64 {
	v := uint64(1)
	for i := uint8(0); i < base; i++ {
		v *= 100
	}
	return v
}

// EncodeHysteresis returns the smallest base and the magnitude for value,
// rounded up so the encoded threshold is never below value.
func EncodeHysteresis(value uint64) (base, magnitude uint8, err error) {
	for b := uint8(0); b <= MaxHysteresisBase; b++ {
		if m, ok := magnitudeFor(value, b); ok {
			return b, m, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: hysteresis %d exceeds %d", kefexcan.ErrOutOfRange, value,
		uint64(MaxHysteresisMagnitude)*pow100(MaxHysteresisBase))
}

func magnitudeFor(value uint64, base uint8) (uint8, bool) {
	unit := pow100(base)
	m := value / unit
	if value%unit != 0 {
		m++
	}
	if m > MaxHysteresisMagnitude {
		return 0, false
	}
	return uint8(m), true
}

// EncodeHysteresisPair encodes both bounds with one base. When they need
// different bases both use the larger one and a warning is returned with the
// encoding.
func EncodeHysteresisPair(upper, lower uint64) (Hysteresis, error) {
	bu, mu, err := EncodeHysteresis(upper)
	if err != nil {
		return Hysteresis{}, err
	}
	bl, ml, err := EncodeHysteresis(lower)
	if err != nil {
		return Hysteresis{}, err
	}
	if bu == bl {
		return Hysteresis{Base: bu, Upper: mu, Lower: ml}, nil
	}
	base := max(bu, bl)
	h := Hysteresis{Base: base}
	h.Upper, _ = magnitudeFor(upper, base)
	h.Lower, _ = magnitudeFor(lower, base)
	return h, kefexcan.Warn(fmt.Errorf("hysteresis bases differ (upper %d, lower %d), both encoded with base %d", bu, bl, base))
}
