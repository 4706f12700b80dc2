package adapter

import (
	"errors"
	"testing"

	"github.com/roffe/kefexcan"
)

func TestVirtual_Loopback(t *testing.T) {
	v := NewVirtual(true)
	if err := v.Init(500); !errors.Is(err, kefexcan.ErrConfiguration) {
		t.Fatalf("Init() before Open = %v, want ErrConfiguration", err)
	}
	if err := v.Open(""); err != nil {
		t.Fatal(err)
	}
	if err := v.Init(0); !errors.Is(err, kefexcan.ErrOutOfRange) {
		t.Fatalf("Init(0) = %v, want ErrOutOfRange", err)
	}
	if err := v.Init(500); err != nil {
		t.Fatal(err)
	}
	if _, err := v.ReadOneFrame(); !errors.Is(err, kefexcan.ErrNoData) {
		t.Fatalf("ReadOneFrame() on empty channel = %v, want ErrNoData", err)
	}

	f := kefexcan.MustFrame(0x123, []byte{1, 2, 3})
	if err := v.SendOneFrame(f); err != nil {
		t.Fatal(err)
	}
	got, err := v.ReadOneFrame()
	if err != nil {
		t.Fatal(err)
	}
	if got.Tx() != f {
		t.Fatalf("looped back %v, want %v", got, f)
	}
	if len(v.Sent()) != 1 {
		t.Fatalf("Sent() = %d frames", len(v.Sent()))
	}

	v.Close()
	if _, err := v.ReadOneFrame(); !errors.Is(err, kefexcan.ErrIO) {
		t.Fatalf("ReadOneFrame() after Close = %v, want ErrIO", err)
	}
	if err := v.SendOneFrame(f); !errors.Is(err, kefexcan.ErrIO) {
		t.Fatalf("SendOneFrame() after Close = %v, want ErrIO", err)
	}
	st, err := kefexcan.BusStatusOf(v)
	if err != nil || st.TXErrors != 1 {
		t.Fatalf("BusStatusOf() = %+v, %v", st, err)
	}
}

func TestVirtual_Responder(t *testing.T) {
	v := NewVirtualPeer(func(f kefexcan.TxFrame) []kefexcan.RxFrame {
		return []kefexcan.RxFrame{
			kefexcan.MustFrame(f.ID+1, f.Payload()).Rx(0),
			kefexcan.MustFrame(f.ID+2, nil).Rx(7),
		}
	})
	if err := v.SendOneFrame(kefexcan.MustFrame(0x600, []byte{0xAA})); err != nil {
		t.Fatal(err)
	}
	first, err := v.ReadOneFrame()
	if err != nil {
		t.Fatal(err)
	}
	second, err := v.ReadOneFrame()
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != 0x601 || first.Data[0] != 0xAA || second.ID != 0x602 || second.Timestamp != 7 {
		t.Fatalf("answers %v / %v", first, second)
	}
	if _, err := v.ReadOneFrame(); !errors.Is(err, kefexcan.ErrNoData) {
		t.Fatalf("peer channel must not loop back, got %v", err)
	}
}

func TestVirtual_Capabilities(t *testing.T) {
	v := NewVirtual(false)
	for _, c := range []kefexcan.Capabilities{kefexcan.CapExtendedID, kefexcan.CapBusStatus, kefexcan.CapVersion} {
		if !kefexcan.HasCapability(v, c) {
			t.Errorf("HasCapability(%s) = false", c)
		}
	}
	ver, err := kefexcan.VersionOf(v)
	if err != nil || ver == "" {
		t.Fatalf("VersionOf() = %q, %v", ver, err)
	}
}

func TestRegistry(t *testing.T) {
	names := kefexcan.ListChannelNames()
	for _, want := range []string{"NetCAN", "SLCAN", "Virtual"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("%s not registered, have %v", want, names)
		}
	}
	ch, err := kefexcan.OpenChannel("virtual", &kefexcan.ChannelConfig{Bitrate: 250})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()
	if ch.Name() != "Virtual" {
		t.Fatalf("OpenChannel() returned %s", ch.Name())
	}
	if _, err := kefexcan.NewChannel("nope", &kefexcan.ChannelConfig{}); !errors.Is(err, kefexcan.ErrNotFound) {
		t.Fatalf("NewChannel(nope) = %v, want ErrNotFound", err)
	}
}
