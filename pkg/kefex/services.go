package kefex

import (
	"fmt"
	"time"

	"github.com/roffe/kefexcan"
)

const (
	MaxProjectIndex   = 0x0F
	MaxVariableData   = 4
	MaxMemoryAddress  = 0xFFFFFF
	MaxMemoryRead     = 3
	MaxMemoryWrite    = 2
	MaxSegmentedBytes = 0xFFFFFF
)

func outOfRange(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kefexcan.ErrOutOfRange}, args...)...)
}

func (d *Driver) header(service byte) []byte {
	return append(make([]byte, 0, 8), d.cfg.ServerAddress, service)
}

func appendIndex(b []byte, index uint16) []byte {
	return append(b, byte(index), byte(index>>8))
}

func appendUint24(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16))
}

// SendLogonRequest logs on to project index (0..15) identified by its
// CRC16 checksum.
func (d *Driver) SendLogonRequest(projectIndex uint8, projectCRC uint16) error {
	if projectIndex > MaxProjectIndex {
		return outOfRange("project index 0x%02X", projectIndex)
	}
	p := d.header(ServiceLogon)
	p = append(p, projectIndex)
	p = appendIndex(p, projectCRC)
	p = append(p, d.cfg.ServerAddress)
	return d.send(p)
}

func (d *Driver) SendLogoffRequest() error {
	return d.send(d.header(ServiceLogoff))
}

// SendSRR requests a single read of variable index.
func (d *Driver) SendSRR(index uint16) error {
	return d.send(appendIndex(d.header(ServiceSRR), index))
}

// SendSWR writes up to four bytes to variable index.
func (d *Driver) SendSWR(index uint16, data []byte) error {
	return d.sendIndexData(ServiceSWR, index, data)
}

// SendIWR writes up to four bytes to variable index without waiting for the
// server application to process it.
func (d *Driver) SendIWR(index uint16, data []byte) error {
	return d.sendIndexData(ServiceIWR, index, data)
}

func (d *Driver) sendIndexData(service byte, index uint16, data []byte) error {
	if len(data) == 0 || len(data) > MaxVariableData {
		return outOfRange("%s data length %d", ServiceName(service), len(data))
	}
	p := appendIndex(d.header(service), index)
	return d.send(append(p, data...))
}

func durationMillis16(name string, v time.Duration) (uint16, error) {
	ms := v.Milliseconds()
	if ms < 0 || ms > 0xFFFF {
		return 0, outOfRange("%s %s", name, v)
	}
	return uint16(ms), nil
}

// SendECRR subscribes to variable index, transmitted when it changed by
// more than hysteresis or at least every maxInterval.
func (d *Driver) SendECRR(index uint16, maxInterval time.Duration, hysteresis uint16, timestamped bool) error {
	ms, err := durationMillis16("maximum interval", maxInterval)
	if err != nil {
		return err
	}
	service := ServiceECRR
	if timestamped {
		service = ServiceECRRTimestamped
	}
	p := appendIndex(d.header(service), index)
	p = appendIndex(p, ms)
	p = appendIndex(p, hysteresis)
	return d.send(p)
}

// SendTCRR subscribes to variable index, transmitted every interval.
func (d *Driver) SendTCRR(index uint16, interval time.Duration, timestamped bool) error {
	ms, err := durationMillis16("interval", interval)
	if err != nil {
		return err
	}
	if ms == 0 {
		return outOfRange("interval 0")
	}
	service := ServiceTCRR
	if timestamped {
		service = ServiceTCRRTimestamped
	}
	p := appendIndex(d.header(service), index)
	return d.send(appendIndex(p, ms))
}

// SendECRRAbsolute subscribes to variable index, transmitted when it leaves
// the band given by the absolute thresholds upper and lower or at least
// every maxInterval (100 ms resolution). A warning is returned together with
// a successful send when both thresholds had to be encoded with one base.
func (d *Driver) SendECRRAbsolute(index uint16, maxInterval time.Duration, upper, lower uint64, timestamped bool) error {
	units := maxInterval.Milliseconds() / 100
	if units < 0 || units > 0xFF {
		return outOfRange("maximum interval %s", maxInterval)
	}
	h, warn := EncodeHysteresisPair(upper, lower)
	if warn != nil && !kefexcan.IsWarning(warn) {
		return warn
	}
	service := ServiceECRRAbsolute
	if timestamped {
		service = ServiceECRRAbsoluteTimestamped
	}
	p := appendIndex(d.header(service), index)
	p = append(p, h.Base, h.Upper, h.Lower, byte(units))
	if err := d.send(p); err != nil {
		return err
	}
	return warn
}

func (d *Driver) SendAbortResponse(index uint16) error {
	return d.send(appendIndex(d.header(ServiceAbortResponse), index))
}

func (d *Driver) SendAbortAllResponses() error {
	return d.send(d.header(ServiceAbortAllResponses))
}

func checkAddress(address uint32) error {
	if address > MaxMemoryAddress {
		return outOfRange("address 0x%X", address)
	}
	return nil
}

// SendReadMemory reads size (1..3) bytes from memory type memType at address.
func (d *Driver) SendReadMemory(memType uint8, address uint32, size uint8) error {
	if err := checkAddress(address); err != nil {
		return err
	}
	if size == 0 || size > MaxMemoryRead {
		return outOfRange("memory read size %d", size)
	}
	p := append(d.header(ServiceReadMemory), memType)
	p = appendUint24(p, address)
	return d.send(append(p, size))
}

// SendWriteMemory writes one or two bytes to memory type memType at address.
func (d *Driver) SendWriteMemory(memType uint8, address uint32, data []byte) error {
	if err := checkAddress(address); err != nil {
		return err
	}
	if len(data) == 0 || len(data) > MaxMemoryWrite {
		return outOfRange("memory write length %d", len(data))
	}
	p := append(d.header(ServiceWriteMemory), memType)
	p = appendUint24(p, address)
	return d.send(append(p, data...))
}

// SendTaskUpdate changes the cycle time of a server task.
func (d *Driver) SendTaskUpdate(task uint8, interval time.Duration) error {
	ms, err := durationMillis16("task interval", interval)
	if err != nil {
		return err
	}
	p := append(d.header(ServiceTaskUpdate), task)
	return d.send(appendIndex(p, ms))
}

func (d *Driver) SendChecksummedWriteStart(list uint16) error {
	return d.send(appendIndex(d.header(ServiceChecksumStart), list))
}

func (d *Driver) SendChecksummedWriteEnd(list uint16, crc uint16) error {
	p := appendIndex(d.header(ServiceChecksumEnd), list)
	return d.send(appendIndex(p, crc))
}
