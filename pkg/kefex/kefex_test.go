package kefex

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/adapter"
)

var testConfig = Config{BaseID: 0x600, ClientAddress: 1, ServerAddress: 2}

func reply(data ...byte) kefexcan.RxFrame {
	return kefexcan.MustFrame(testConfig.ResponseID(), data).Rx(0)
}

func newTestDriver(t *testing.T, r adapter.Responder, opts ...Option) (*Driver, *adapter.Virtual) {
	t.Helper()
	ch := adapter.NewVirtualPeer(r)
	disp, err := kefexcan.NewDispatcher(ch)
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(testConfig, opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SetDispatcher(disp); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d, ch
}

// echo answers every request with its service id and index.
func echo(f kefexcan.TxFrame) []kefexcan.RxFrame {
	p := f.Payload()
	out := []byte{testConfig.ClientAddress, p[1]}
	body := p[2:]
	if p[1] == ServiceReadMemory || p[1] == ServiceWriteMemory {
		body = body[1:]
	}
	out = append(out, body[:min(indexLength(p[1]), len(body))]...)
	return []kefexcan.RxFrame{reply(out...)}
}

func TestConfig(t *testing.T) {
	if id := testConfig.RequestID(); id != 0x602 {
		t.Errorf("RequestID() = 0x%X, want 0x602", id)
	}
	if id := testConfig.ResponseID(); id != 0x605 {
		t.Errorf("ResponseID() = 0x%X, want 0x605", id)
	}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"base too large", Config{BaseID: 0x800}},
		{"extended base", Config{BaseID: 0x1000, ClientAddress: 1, ServerAddress: 2}},
		{"equal identifiers", Config{BaseID: 0x601}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, kefexcan.ErrConfiguration) {
				t.Fatalf("New() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestSendWithoutDispatcher(t *testing.T) {
	d, err := New(testConfig)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SendLogoffRequest(); !errors.Is(err, kefexcan.ErrConfiguration) {
		t.Fatalf("SendLogoffRequest() = %v, want ErrConfiguration", err)
	}
	if err := d.EvaluateAllResponses(); !errors.Is(err, kefexcan.ErrConfiguration) {
		t.Fatalf("EvaluateAllResponses() = %v, want ErrConfiguration", err)
	}
}

func TestSendLogonRequest_ProjectIndexOutOfRange(t *testing.T) {
	d, ch := newTestDriver(t, nil)
	if err := d.SendLogonRequest(0x10, 0x1234); !errors.Is(err, kefexcan.ErrOutOfRange) {
		t.Fatalf("SendLogonRequest() = %v, want ErrOutOfRange", err)
	}
	if n := len(ch.Sent()); n != 0 {
		t.Fatalf("%d frames sent, want none", n)
	}
}

func TestServiceFrames(t *testing.T) {
	tests := []struct {
		name string
		send func(d *Driver) error
		want []byte
	}{
		{"logon", func(d *Driver) error { return d.SendLogonRequest(0x0F, 0xBEEF) }, []byte{2, 0x0B, 0x0F, 0xEF, 0xBE, 2}},
		{"logoff", func(d *Driver) error { return d.SendLogoffRequest() }, []byte{2, 0x0C}},
		{"srr", func(d *Driver) error { return d.SendSRR(0x1234) }, []byte{2, 0x01, 0x34, 0x12}},
		{"swr", func(d *Driver) error { return d.SendSWR(0x0001, []byte{9, 8}) }, []byte{2, 0x02, 0x01, 0x00, 9, 8}},
		{"iwr", func(d *Driver) error { return d.SendIWR(0x0002, []byte{1, 2, 3, 4}) }, []byte{2, 0x0D, 0x02, 0x00, 1, 2, 3, 4}},
		{"ecrr", func(d *Driver) error { return d.SendECRR(0x10, 500*time.Millisecond, 0x0102, false) },
			[]byte{2, 0x03, 0x10, 0x00, 0xF4, 0x01, 0x02, 0x01}},
		{"ecrr timestamped", func(d *Driver) error { return d.SendECRR(0x10, time.Second, 1, true) },
			[]byte{2, 0x06, 0x10, 0x00, 0xE8, 0x03, 0x01, 0x00}},
		{"tcrr", func(d *Driver) error { return d.SendTCRR(0x20, 100*time.Millisecond, false) }, []byte{2, 0x04, 0x20, 0x00, 100, 0}},
		{"tcrr timestamped", func(d *Driver) error { return d.SendTCRR(0x20, 100*time.Millisecond, true) }, []byte{2, 0x07, 0x20, 0x00, 100, 0}},
		{"ecrr absolute", func(d *Driver) error { return d.SendECRRAbsolute(0x30, 2*time.Second, 100, 20, false) },
			[]byte{2, 0x05, 0x30, 0x00, 0, 100, 20, 20}},
		{"abort", func(d *Driver) error { return d.SendAbortResponse(0x30) }, []byte{2, 0x09, 0x30, 0x00}},
		{"abort all", func(d *Driver) error { return d.SendAbortAllResponses() }, []byte{2, 0x0A}},
		{"read memory", func(d *Driver) error { return d.SendReadMemory(1, 0x123456, 3) }, []byte{2, 0x0E, 1, 0x56, 0x34, 0x12, 3}},
		{"write memory", func(d *Driver) error { return d.SendWriteMemory(2, 0xABCDEF, []byte{7, 8}) },
			[]byte{2, 0x0F, 2, 0xEF, 0xCD, 0xAB, 7, 8}},
		{"task update", func(d *Driver) error { return d.SendTaskUpdate(3, 20*time.Millisecond) }, []byte{2, 0x10, 3, 20, 0}},
		{"checksum start", func(d *Driver) error { return d.SendChecksummedWriteStart(0x0102) }, []byte{2, 0x11, 0x02, 0x01}},
		{"checksum end", func(d *Driver) error { return d.SendChecksummedWriteEnd(0x0102, 0xA1B2) },
			[]byte{2, 0x12, 0x02, 0x01, 0xB2, 0xA1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ch := newTestDriver(t, nil)
			if err := tt.send(d); err != nil {
				t.Fatal(err)
			}
			sent := ch.Sent()
			if len(sent) != 1 {
				t.Fatalf("%d frames sent, want 1", len(sent))
			}
			if sent[0].ID != 0x602 || sent[0].Extended {
				t.Fatalf("frame id 0x%X, want standard 0x602", sent[0].ID)
			}
			if got := sent[0].Payload(); !bytes.Equal(got, tt.want) {
				t.Fatalf("payload % X, want % X", got, tt.want)
			}
		})
	}
}

func TestServiceParameterChecks(t *testing.T) {
	tests := []struct {
		name string
		send func(d *Driver) error
	}{
		{"swr empty", func(d *Driver) error { return d.SendSWR(1, nil) }},
		{"swr too long", func(d *Driver) error { return d.SendSWR(1, make([]byte, 5)) }},
		{"iwr too long", func(d *Driver) error { return d.SendIWR(1, make([]byte, 5)) }},
		{"tcrr zero interval", func(d *Driver) error { return d.SendTCRR(1, 0, false) }},
		{"ecrr interval", func(d *Driver) error { return d.SendECRR(1, 70*time.Second, 0, false) }},
		{"ecrr absolute interval", func(d *Driver) error { return d.SendECRRAbsolute(1, 30*time.Second, 1, 1, false) }},
		{"ecrr absolute threshold", func(d *Driver) error { return d.SendECRRAbsolute(1, time.Second, 1<<40, 1, false) }},
		{"read memory size", func(d *Driver) error { return d.SendReadMemory(0, 0, 4) }},
		{"read memory size zero", func(d *Driver) error { return d.SendReadMemory(0, 0, 0) }},
		{"read memory address", func(d *Driver) error { return d.SendReadMemory(0, 0x1000000, 1) }},
		{"write memory length", func(d *Driver) error { return d.SendWriteMemory(0, 0, []byte{1, 2, 3}) }},
		{"task interval", func(d *Driver) error { return d.SendTaskUpdate(1, time.Minute+6*time.Second) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ch := newTestDriver(t, nil)
			if err := tt.send(d); !errors.Is(err, kefexcan.ErrOutOfRange) {
				t.Fatalf("got %v, want ErrOutOfRange", err)
			}
			if n := len(ch.Sent()); n != 0 {
				t.Fatalf("%d frames sent, want none", n)
			}
		})
	}
}

func TestConfirmedServices(t *testing.T) {
	d, _ := newTestDriver(t, func(f kefexcan.TxFrame) []kefexcan.RxFrame {
		p := f.Payload()
		switch p[1] {
		case ServiceSRR:
			return []kefexcan.RxFrame{reply(1, 0x01, p[2], p[3], 0xAA, 0xBB)}
		case ServiceReadMemory:
			return []kefexcan.RxFrame{reply(1, 0x0E, p[3], p[4], p[5], 1, 2, 3)}
		}
		return echo(f)
	})

	if err := d.Logon(1, 0x1234, DefaultTimeout); err != nil {
		t.Fatalf("Logon() error: %v", err)
	}
	got, err := d.ReadVariable(0x1234, DefaultTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xAA, 0xBB}) {
		t.Fatalf("ReadVariable() = % X", got)
	}
	if err := d.WriteVariable(0x10, []byte{1}, DefaultTimeout); err != nil {
		t.Fatalf("WriteVariable() error: %v", err)
	}
	mem, err := d.ReadMemory(0, 0x00ABCD, 2, DefaultTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(mem, []byte{1, 2}) {
		t.Fatalf("ReadMemory() = % X", mem)
	}
	if err := d.WriteMemory(0, 0x00ABCD, []byte{5}, DefaultTimeout); err != nil {
		t.Fatalf("WriteMemory() error: %v", err)
	}
	if err := d.Logoff(DefaultTimeout); err != nil {
		t.Fatalf("Logoff() error: %v", err)
	}
}

func TestEvaluateResponses_ErrorResponse(t *testing.T) {
	d, _ := newTestDriver(t, func(kefexcan.TxFrame) []kefexcan.RxFrame {
		return []kefexcan.RxFrame{reply(1, 0x81, 0x02, 0x00)}
	})
	_, err := d.ReadVariable(0x99, DefaultTimeout)
	if !errors.Is(err, kefexcan.ErrErrorResponse) {
		t.Fatalf("ReadVariable() = %v, want ErrErrorResponse", err)
	}
	var resp *kefexcan.ErrorResponse
	if !errors.As(err, &resp) {
		t.Fatal("error is not an *ErrorResponse")
	}
	if resp.Code != 0x0002 || resp.Service != ServiceSRR || resp.Text != "Index out of range" {
		t.Fatalf("ErrorResponse = %+v", resp)
	}
}

func TestEvaluateResponses_Timeout(t *testing.T) {
	d, _ := newTestDriver(t, nil)
	start := time.Now()
	_, err := d.ReadVariable(1, 20*time.Millisecond)
	var te *kefexcan.TimeoutError
	if !errors.As(err, &te) || !errors.Is(err, kefexcan.ErrCommunication) {
		t.Fatalf("ReadVariable() = %v, want timeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned before the timeout elapsed")
	}
}

// steppingClock advances by step every time it is read.
type steppingClock struct {
	t    time.Time
	step time.Duration
}

func (c *steppingClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func TestEvaluateResponses_DeadlineUnderLoad(t *testing.T) {
	flood := func(answer kefexcan.RxFrame) adapter.Responder {
		return func(kefexcan.TxFrame) []kefexcan.RxFrame {
			var out []kefexcan.RxFrame
			for i := 0; i < 50; i++ {
				out = append(out, reply(1, ServiceTCRR, 0x10, 0x00, byte(i)))
			}
			return append(out, answer)
		}
	}

	t.Run("telemetry", func(t *testing.T) {
		clk := &steppingClock{t: time.Unix(0, 0), step: 10 * time.Millisecond}
		d, _ := newTestDriver(t, flood(reply(1, ServiceSRR, 0x01, 0x00, 0xAA)), WithClock(clk.now))
		_, err := d.ReadVariable(1, 100*time.Millisecond)
		var te *kefexcan.TimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("ReadVariable() = %v, want timeout while frames keep arriving", err)
		}
	})
	t.Run("other clients", func(t *testing.T) {
		var frames []kefexcan.RxFrame
		for i := 0; i < 50; i++ {
			frames = append(frames, reply(3, ServiceSRRFirstFrame, 0x01, 0x00, 20, 0, 0, 0))
		}
		clk := &steppingClock{t: time.Unix(0, 0), step: 10 * time.Millisecond}
		d, _ := newTestDriver(t, func(kefexcan.TxFrame) []kefexcan.RxFrame {
			return append(frames, reply(1, ServiceSRRFirstFrame, 0x01, 0x00, 20, 0, 0, 0))
		}, WithClock(clk.now))
		_, err := d.ReadSegmented(1, 20, 8, 0, 100*time.Millisecond)
		var te *kefexcan.TimeoutError
		if !errors.As(err, &te) {
			t.Fatalf("ReadSegmented() = %v, want timeout while frames keep arriving", err)
		}
	})
}

func TestEvaluateResponses_SkipsOtherServices(t *testing.T) {
	resets := 0
	var telemetry []Telemetry
	d, _ := newTestDriver(t, func(kefexcan.TxFrame) []kefexcan.RxFrame {
		return []kefexcan.RxFrame{
			reply(1, 0x02, 0x01, 0x00),
			reply(3, 0x0B, 0x00),
			reply(1, 0x04, 0x10, 0x00, 1, 2),
			reply(1, 0x7F),
			reply(1, 0x0B, 0x00),
		}
	}, WithResetHandler(func() { resets++ }), WithTelemetryHandler(func(tm Telemetry) { telemetry = append(telemetry, tm) }))
	if err := d.Logon(0, 0, DefaultTimeout); err != nil {
		t.Fatal(err)
	}
	if resets != 1 {
		t.Errorf("reset handler called %d times, want 1", resets)
	}
	if len(telemetry) != 1 || telemetry[0].Index != 0x10 {
		t.Errorf("telemetry = %+v", telemetry)
	}
}

func TestEvaluateAllResponses(t *testing.T) {
	var telemetry []Telemetry
	resets := 0
	d, ch := newTestDriver(t, nil)
	d.SetTelemetryHandler(func(tm Telemetry) { telemetry = append(telemetry, tm) })
	d.SetResetHandler(func() { resets++ })

	ch.Inject(
		reply(1, 0x04, 0x10, 0x00, 1, 2, 3, 4),
		reply(1, 0x07, 0x11, 0x00, 0xE8, 0x03, 9, 8),
		reply(1, 0x7F),
		reply(4, 0x04, 0x10, 0x00, 1),
	)
	if err := d.EvaluateAllResponses(); err != nil {
		t.Fatal(err)
	}
	if len(telemetry) != 2 {
		t.Fatalf("got %d telemetry frames, want 2", len(telemetry))
	}
	if tm := telemetry[0]; tm.Timestamped || tm.Index != 0x10 || !bytes.Equal(tm.Data, []byte{1, 2, 3, 4}) {
		t.Errorf("telemetry[0] = %+v", tm)
	}
	if tm := telemetry[1]; !tm.Timestamped || tm.Timestamp != 1000 || tm.Service != ServiceTCRRTimestamped || !bytes.Equal(tm.Data, []byte{9, 8}) {
		t.Errorf("telemetry[1] = %+v", tm)
	}
	if resets != 1 {
		t.Errorf("resets = %d", resets)
	}
	if _, ok := d.LastResponse(); ok {
		t.Fatal("telemetry must not occupy the response slot")
	}

	ch.Inject(reply(1, 0x01, 0x01, 0x00, 5), reply(1, 0x01, 0x02, 0x00, 6))
	d.EvaluateAllResponses()
	r, ok := d.LastResponse()
	if !ok {
		t.Fatal("no response stored")
	}
	if !r.Overrun || r.Index != 2 || !bytes.Equal(r.Payload(), []byte{6}) {
		t.Fatalf("LastResponse() = %+v, want overrun response for index 2", r)
	}
	if _, ok := d.LastResponse(); ok {
		t.Fatal("LastResponse() must clear the slot")
	}
}

func TestWriteChecksummed(t *testing.T) {
	elements := []Element{
		{Index: 1, Data: []byte{1, 2}},
		{Index: 2, Data: []byte{3, 4, 5, 6}},
	}
	var gotCRC uint16
	var order []byte
	d, _ := newTestDriver(t, func(f kefexcan.TxFrame) []kefexcan.RxFrame {
		p := f.Payload()
		order = append(order, p[1])
		if p[1] == ServiceChecksumEnd {
			gotCRC = uint16(p[4]) | uint16(p[5])<<8
		}
		return echo(f)
	})
	if err := d.WriteChecksummed(7, elements, DefaultTimeout); err != nil {
		t.Fatal(err)
	}
	if want := []byte{0x11, 0x02, 0x02, 0x12}; !bytes.Equal(order, want) {
		t.Fatalf("service order % X, want % X", order, want)
	}
	if want := crcOf(1, 2, 3, 4, 5, 6); gotCRC != want {
		t.Fatalf("end crc 0x%04X, want 0x%04X", gotCRC, want)
	}

	if err := d.WriteChecksummed(7, []Element{{Index: 1}}, DefaultTimeout); !errors.Is(err, kefexcan.ErrOutOfRange) {
		t.Fatalf("empty element = %v, want ErrOutOfRange", err)
	}
}

func TestTranslateErrorCode(t *testing.T) {
	if s := TranslateErrorCode(0x0006); s != "Not logged on" {
		t.Errorf("TranslateErrorCode(6) = %q", s)
	}
	if s := TranslateErrorCode(0xBEEF); s != "Unknown error BEEF" {
		t.Errorf("TranslateErrorCode(0xBEEF) = %q", s)
	}
	if s := ServiceName(ServiceSRR | errorFlag); s != "SRR" {
		t.Errorf("ServiceName(0x81) = %q", s)
	}
}
