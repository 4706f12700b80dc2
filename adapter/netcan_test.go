package adapter

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roffe/kefexcan"
)

// gateway answers every frame with the same payload on id+1 and then hangs up.
func gateway(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		f, err := kefexcan.ReadWire(conn, false)
		if err != nil {
			return
		}
		answer := kefexcan.MustFrame(f.ID+1, f.Payload()).Rx(42)
		b, _ := answer.MarshalBinary()
		conn.Write(b)
	}()
	return l.Addr().String()
}

func readFrame(t *testing.T, ch kefexcan.Channel) (kefexcan.RxFrame, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f, err := ch.ReadOneFrame()
		if !errors.Is(err, kefexcan.ErrNoData) {
			return f, err
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no frame within 2s")
	return kefexcan.RxFrame{}, nil
}

func TestNetCAN(t *testing.T) {
	cfg := &kefexcan.ChannelConfig{
		Path:    gateway(t),
		Bitrate: 500,
		Logger:  zerolog.Nop(),
	}
	ch, err := kefexcan.OpenChannel("netcan", cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	if err := ch.SendOneFrame(kefexcan.MustFrame(0x602, []byte{2, 0x0B})); err != nil {
		t.Fatal(err)
	}
	f, err := readFrame(t, ch)
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != 0x603 || f.DLC != 2 || f.Data[1] != 0x0B || f.Timestamp != 42 {
		t.Fatalf("answer %+v", f)
	}

	// the gateway hung up
	if _, err := readFrame(t, ch); !errors.Is(err, kefexcan.ErrIO) {
		t.Fatalf("ReadOneFrame() after hang up = %v, want ErrIO", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ch.SendOneFrame(kefexcan.MustFrame(0x602, nil)); !errors.Is(err, kefexcan.ErrIO) {
		t.Fatalf("SendOneFrame() after Close = %v, want ErrIO", err)
	}
}

func TestNetCAN_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	n := NewNetCAN(&kefexcan.ChannelConfig{Logger: zerolog.Nop()})
	if err := n.Open(addr); !errors.Is(err, kefexcan.ErrIO) {
		t.Fatalf("Open() = %v, want ErrIO", err)
	}
	if err := n.Init(500); !errors.Is(err, kefexcan.ErrConfiguration) {
		t.Fatalf("Init() unconnected = %v, want ErrConfiguration", err)
	}
}

func TestNetCAN_ReopenClearsReadError(t *testing.T) {
	n := NewNetCAN(&kefexcan.ChannelConfig{Logger: zerolog.Nop()})
	if err := n.Open(gateway(t)); err != nil {
		t.Fatal(err)
	}
	if err := n.SendOneFrame(kefexcan.MustFrame(0x602, []byte{2})); err != nil {
		t.Fatal(err)
	}
	if _, err := readFrame(t, n); err != nil {
		t.Fatal(err)
	}
	if _, err := readFrame(t, n); !errors.Is(err, kefexcan.ErrIO) {
		t.Fatalf("ReadOneFrame() after hang up = %v, want ErrIO", err)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}

	// the second gateway stays silent until it gets a frame
	if err := n.Open(gateway(t)); err != nil {
		t.Fatal(err)
	}
	defer n.Close()
	if _, err := n.ReadOneFrame(); !errors.Is(err, kefexcan.ErrNoData) {
		t.Fatalf("ReadOneFrame() after reopen = %v, want ErrNoData", err)
	}
}
