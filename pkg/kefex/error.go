package kefex

import (
	"encoding/binary"
	"fmt"

	"github.com/roffe/kefexcan"
)

const (
	ServiceSRR                     byte = 0x01
	ServiceSWR                     byte = 0x02
	ServiceECRR                    byte = 0x03
	ServiceTCRR                    byte = 0x04
	ServiceECRRAbsolute            byte = 0x05
	ServiceECRRTimestamped         byte = 0x06
	ServiceTCRRTimestamped         byte = 0x07
	ServiceECRRAbsoluteTimestamped byte = 0x08
	ServiceAbortResponse           byte = 0x09
	ServiceAbortAllResponses       byte = 0x0A
	ServiceLogon                   byte = 0x0B
	ServiceLogoff                  byte = 0x0C
	ServiceIWR                     byte = 0x0D
	ServiceReadMemory              byte = 0x0E
	ServiceWriteMemory             byte = 0x0F
	ServiceTaskUpdate              byte = 0x10
	ServiceChecksumStart           byte = 0x11
	ServiceChecksumEnd             byte = 0x12
	ServiceSRRFirstFrame           byte = 0x13
	ServiceSRRFlowControl          byte = 0x14
	ServiceIWRFirstFrame           byte = 0x15
	ServiceIWRFlowControl          byte = 0x16
	ServiceIWRConsecutive          byte = 0x17
	ServiceReset                   byte = 0x7F

	errorFlag byte = 0x80
)

func ServiceName(s byte) string {
	switch s &^ errorFlag {
	case ServiceSRR:
		return "SRR"
	case ServiceSWR:
		return "SWR"
	case ServiceECRR:
		return "ECRR"
	case ServiceTCRR:
		return "TCRR"
	case ServiceECRRAbsolute:
		return "ECRR absolute"
	case ServiceECRRTimestamped:
		return "ECRR timestamped"
	case ServiceTCRRTimestamped:
		return "TCRR timestamped"
	case ServiceECRRAbsoluteTimestamped:
		return "ECRR absolute timestamped"
	case ServiceAbortResponse:
		return "AbortResponse"
	case ServiceAbortAllResponses:
		return "AbortAllResponses"
	case ServiceLogon:
		return "Logon"
	case ServiceLogoff:
		return "Logoff"
	case ServiceIWR:
		return "IWR"
	case ServiceReadMemory:
		return "ReadMemory"
	case ServiceWriteMemory:
		return "WriteMemory"
	case ServiceTaskUpdate:
		return "TaskUpdate"
	case ServiceChecksumStart:
		return "ChecksummedWriteStart"
	case ServiceChecksumEnd:
		return "ChecksummedWriteEnd"
	case ServiceSRRFirstFrame:
		return "SRR first frame"
	case ServiceSRRFlowControl:
		return "SRR flow control"
	case ServiceIWRFirstFrame:
		return "IWR first frame"
	case ServiceIWRFlowControl:
		return "IWR flow control"
	case ServiceIWRConsecutive:
		return "IWR consecutive frame"
	case ServiceReset:
		return "ECU reset"
	default:
		return fmt.Sprintf("service 0x%02X", s)
	}
}

func TranslateErrorCode(code uint16) string {
	switch code {
	case 0x0000:
		return "No error"
	case 0x0001:
		return "Service not supported"
	case 0x0002:
		return "Index out of range"
	case 0x0003:
		return "Access denied"
	case 0x0004:
		return "Value out of range"
	case 0x0005:
		return "Busy, repeat request"
	case 0x0006:
		return "Not logged on"
	case 0x0007:
		return "Wrong project index or checksum"
	case 0x0008:
		return "Checksum mismatch"
	case 0x0009:
		return "Too many cyclic transmissions"
	case 0x000A:
		return "Invalid length"
	case 0x000B:
		return "Sequence error"
	case 0x000C:
		return "Memory type not supported"
	case 0x000D:
		return "Address out of range"
	case 0x000E:
		return "Task not found"
	case 0x000F:
		return "Checksummed write not started"
	default:
		return fmt.Sprintf("Unknown error %04X", code)
	}
}

// errorResponse decodes the peer error code of frame p, p[1] has the
// error flag set.
func errorResponse(p []byte) *kefexcan.ErrorResponse {
	var code uint16
	if len(p) >= 4 {
		code = binary.LittleEndian.Uint16(p[2:4])
	} else if len(p) == 3 {
		code = uint16(p[2])
	}
	return &kefexcan.ErrorResponse{
		Service: p[1] &^ errorFlag,
		Code:    code,
		Text:    TranslateErrorCode(code),
	}
}
