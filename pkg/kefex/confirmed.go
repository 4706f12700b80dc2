package kefex

import (
	"time"

	"github.com/roffe/kefexcan/pkg/crc"
)

// Logon sends a logon request and waits for the server to accept it.
func (d *Driver) Logon(projectIndex uint8, projectCRC uint16, timeout time.Duration) error {
	if err := d.SendLogonRequest(projectIndex, projectCRC); err != nil {
		return err
	}
	_, err := d.EvaluateResponses(ServiceLogon, timeout)
	return err
}

func (d *Driver) Logoff(timeout time.Duration) error {
	if err := d.SendLogoffRequest(); err != nil {
		return err
	}
	_, err := d.EvaluateResponses(ServiceLogoff, timeout)
	return err
}

// ReadVariable reads up to four bytes of variable index.
func (d *Driver) ReadVariable(index uint16, timeout time.Duration) ([]byte, error) {
	if err := d.SendSRR(index); err != nil {
		return nil, err
	}
	r, err := d.EvaluateResponses(ServiceSRR, timeout)
	if err != nil {
		return nil, err
	}
	if r.Index != uint32(index) {
		return nil, communicationf("SRR answered index 0x%04X, want 0x%04X", r.Index, index)
	}
	return append([]byte(nil), r.Payload()...), nil
}

func (d *Driver) WriteVariable(index uint16, data []byte, timeout time.Duration) error {
	if err := d.SendSWR(index, data); err != nil {
		return err
	}
	return d.awaitIndex(ServiceSWR, uint32(index), timeout)
}

func (d *Driver) ReadMemory(memType uint8, address uint32, size uint8, timeout time.Duration) ([]byte, error) {
	if err := d.SendReadMemory(memType, address, size); err != nil {
		return nil, err
	}
	r, err := d.EvaluateResponses(ServiceReadMemory, timeout)
	if err != nil {
		return nil, err
	}
	if r.Index != address {
		return nil, communicationf("memory read answered address 0x%06X, want 0x%06X", r.Index, address)
	}
	if int(r.Size) < int(size) {
		return nil, communicationf("memory read returned %d bytes, want %d", r.Size, size)
	}
	return append([]byte(nil), r.Payload()[:size]...), nil
}

func (d *Driver) WriteMemory(memType uint8, address uint32, data []byte, timeout time.Duration) error {
	if err := d.SendWriteMemory(memType, address, data); err != nil {
		return err
	}
	return d.awaitIndex(ServiceWriteMemory, address, timeout)
}

// Element is one variable of a checksummed list write.
type Element struct {
	Index uint16
	Data  []byte
}

// WriteChecksummed writes every element of list between a checksummed
// write start and end. The end frame carries the CRC16 of all written bytes
// in order so the server can verify the list before it takes effect.
func (d *Driver) WriteChecksummed(list uint16, elements []Element, timeout time.Duration) error {
	for _, e := range elements {
		if len(e.Data) == 0 || len(e.Data) > MaxVariableData {
			return outOfRange("element 0x%04X data length %d", e.Index, len(e.Data))
		}
	}
	if err := d.SendChecksummedWriteStart(list); err != nil {
		return err
	}
	if err := d.awaitIndex(ServiceChecksumStart, uint32(list), timeout); err != nil {
		return err
	}
	sum := crc.CRC16Seed
	for _, e := range elements {
		if err := d.WriteVariable(e.Index, e.Data, timeout); err != nil {
			return err
		}
		sum = crc.CRC16(sum, e.Data)
	}
	if err := d.SendChecksummedWriteEnd(list, sum); err != nil {
		return err
	}
	return d.awaitIndex(ServiceChecksumEnd, uint32(list), timeout)
}

func (d *Driver) awaitIndex(service byte, index uint32, timeout time.Duration) error {
	r, err := d.EvaluateResponses(service, timeout)
	if err != nil {
		return err
	}
	if r.Index != index {
		return communicationf("%s answered index 0x%X, want 0x%X", ServiceName(service), r.Index, index)
	}
	return nil
}
