package kefex

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"time"

	"github.com/roffe/kefexcan"
)

// Response is a decoded service response.
type Response struct {
	Service byte
	// Index is the variable index, list index, task or memory address,
	// depending on the service.
	Index uint32
	Data  [7]byte
	Size  uint8
	Error bool
	// Overrun is set when an unread response was overwritten by this one.
	Overrun bool
}

func (r Response) Payload() []byte {
	return r.Data[:min(int(r.Size), len(r.Data))]
}

// Code is the peer error code of an error response.
func (r Response) Code() uint16 {
	if !r.Error || r.Size < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(r.Data[:2])
}

func (r Response) Err() error {
	if !r.Error {
		return nil
	}
	return &kefexcan.ErrorResponse{Service: r.Service, Code: r.Code(), Text: TranslateErrorCode(r.Code())}
}

func (r Response) String() string {
	if r.Error {
		return fmt.Sprintf("%s error 0x%04X", ServiceName(r.Service), r.Code())
	}
	return fmt.Sprintf("%s index 0x%X data % X", ServiceName(r.Service), r.Index, r.Payload())
}

// indexLength is the size of the index field following the service byte.
func indexLength(service byte) int {
	switch service {
	case ServiceLogon, ServiceLogoff, ServiceAbortAllResponses, ServiceReset:
		return 0
	case ServiceTaskUpdate:
		return 1
	case ServiceReadMemory, ServiceWriteMemory:
		return 3
	default:
		return 2
	}
}

func decodeResponse(p []byte) Response {
	r := Response{Service: p[1] &^ errorFlag, Error: p[1]&errorFlag != 0}
	body := p[2:]
	if !r.Error {
		n := min(indexLength(r.Service), len(body))
		for i := 0; i < n; i++ {
			r.Index |= uint32(body[i]) << (8 * i)
		}
		body = body[n:]
	}
	r.Size = uint8(copy(r.Data[:], body))
	return r
}

func isTelemetry(service byte) bool {
	return service >= ServiceECRR && service <= ServiceECRRAbsoluteTimestamped
}

func decodeTelemetry(p []byte) (Telemetry, bool) {
	if len(p) < 4 {
		return Telemetry{}, false
	}
	t := Telemetry{
		Service: p[1],
		Index:   binary.LittleEndian.Uint16(p[2:4]),
	}
	body := p[4:]
	if p[1] >= ServiceECRRTimestamped {
		if len(body) < 2 {
			return Telemetry{}, false
		}
		t.Timestamped = true
		t.Timestamp = binary.LittleEndian.Uint16(body[:2])
		body = body[2:]
	}
	t.Data = append([]byte(nil), body...)
	return t, true
}

// classify handles one received frame: telemetry and reset indications go
// to their callbacks, anything else replaces the last response.
func (d *Driver) classify(p []byte) {
	if len(p) < 2 || p[0] != d.cfg.ClientAddress {
		return
	}
	switch {
	case p[1] == ServiceReset:
		d.log.Debug().Msg("ECU reset indication")
		if d.onReset != nil {
			d.onReset()
		}
		return
	case isTelemetry(p[1]):
		t, ok := decodeTelemetry(p)
		if !ok {
			d.log.Debug().Hex("payload", p).Msg("short telemetry frame ignored")
			return
		}
		if d.onTelemetry != nil {
			d.onTelemetry(t)
		}
		return
	}
	r := decodeResponse(p)
	if d.lastValid {
		d.log.Debug().Str("lost", d.last.String()).Msg("response overrun")
		r.Overrun = true
	}
	d.last = r
	d.lastValid = true
}

// EvaluateAllResponses processes every pending frame without waiting.
// Telemetry and reset indications are delivered to the callbacks, the
// latest response is kept for LastResponse.
func (d *Driver) EvaluateAllResponses() error {
	for {
		f, ok, err := d.receive()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		d.classify(f.Payload())
	}
}

// LastResponse takes the response stored by EvaluateAllResponses.
func (d *Driver) LastResponse() (Response, bool) {
	if !d.lastValid {
		return Response{}, false
	}
	d.lastValid = false
	return d.last, true
}

// EvaluateResponses processes incoming frames until a response to service
// arrives, the server reports an error or timeout elapses. Responses to
// other services are discarded.
func (d *Driver) EvaluateResponses(service byte, timeout time.Duration) (Response, error) {
	deadline := d.now().Add(timeout)
	for {
		f, ok, err := d.receive()
		if err != nil {
			return Response{}, err
		}
		if ok {
			d.classify(f.Payload())
			if r, ok := d.LastResponse(); ok {
				if r.Error {
					return r, r.Err()
				}
				if r.Service == service {
					return r, nil
				}
				d.log.Debug().Str("response", r.String()).Msg("unexpected response discarded")
			}
		}
		if !d.now().Before(deadline) {
			return Response{}, &kefexcan.TimeoutError{Timeout: timeout, Service: service, Type: ServiceName(service)}
		}
		if !ok {
			runtime.Gosched()
		}
	}
}
