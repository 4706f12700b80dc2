package crc

import (
	"errors"
	"testing"
)

func TestCRC16_Check(t *testing.T) {
	if got := Checksum16([]byte("123456789")); got != 0xE5CC {
		t.Fatalf("Checksum16() = 0x%04X, want 0xE5CC", got)
	}
	if got := CRC16(0, nil); got != 0 {
		t.Fatalf("CRC16(0, nil) = 0x%04X", got)
	}
}

func TestCRC16_Chaining(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
	}{
		{"empty tail", []byte{1, 2, 3}, nil},
		{"empty head", nil, []byte{0xFF, 0x00}},
		{"text", []byte("KEFEX "), []byte("protocol")},
		{"binary", []byte{0x00, 0x80, 0x7F}, []byte{0x55, 0xAA, 0x01, 0xFE}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			whole := CRC16(CRC16Seed, append(append([]byte{}, tt.a...), tt.b...))
			chained := CRC16(CRC16(CRC16Seed, tt.a), tt.b)
			if whole != chained {
				t.Fatalf("whole 0x%04X != chained 0x%04X", whole, chained)
			}
			if again := CRC16(CRC16Seed, append(append([]byte{}, tt.a...), tt.b...)); again != whole {
				t.Fatal("CRC16 is not repeatable")
			}
		})
	}
}

func TestCRC32(t *testing.T) {
	if got := Checksum32([]byte("123456789")); got != 0xCBF43926 {
		t.Fatalf("Checksum32() = 0x%08X, want 0xCBF43926", got)
	}
	a, b := []byte("hello "), []byte("world")
	whole := CRC32(CRC32Seed, []byte("hello world"))
	if chained := CRC32(CRC32(CRC32Seed, a), b); chained != whole {
		t.Fatalf("whole 0x%08X != chained 0x%08X", whole, chained)
	}
}

func TestMISR32(t *testing.T) {
	if _, err := MISR32(0, []byte{1, 2, 3}); !errors.Is(err, ErrLengthNotAligned) {
		t.Fatalf("MISR32() = %v, want ErrLengthNotAligned", err)
	}
	got, err := MISR32(0, []byte{0x01, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("MISR32() = 0x%08X, want 1", got)
	}
	got, err = MISR32(got, []byte{0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	// tap bit 0 is set so the feedback bit is 1
	if got != 3 {
		t.Fatalf("MISR32() = 0x%08X, want 3", got)
	}
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	whole, _ := MISR32(0xFFFFFFFF, data)
	first, _ := MISR32(0xFFFFFFFF, data[:4])
	chained, _ := MISR32(first, data[4:])
	if whole != chained {
		t.Fatalf("whole 0x%08X != chained 0x%08X", whole, chained)
	}
}
