package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/roffe/kefexcan"
	"github.com/roffe/kefexcan/adapter"
)

func TestGateway(t *testing.T) {
	peer := adapter.NewVirtualPeer(func(f kefexcan.TxFrame) []kefexcan.RxFrame {
		return []kefexcan.RxFrame{kefexcan.MustFrame(f.ID|1, f.Payload()).Rx(0)}
	})
	disp, err := kefexcan.NewDispatcher(peer)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(disp, WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	client := adapter.NewNetCAN(&kefexcan.ChannelConfig{Logger: zerolog.Nop()})
	if err := client.Open(l.Addr().String()); err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if err := client.Init(500); err != nil {
		t.Fatal(err)
	}

	if err := client.SendOneFrame(kefexcan.MustFrame(0x602, []byte{2, 0x01, 0x10, 0x00})); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	var got kefexcan.RxFrame
	for {
		got, err = client.ReadOneFrame()
		if err == nil {
			break
		}
		if !errors.Is(err, kefexcan.ErrNoData) || time.Now().After(deadline) {
			t.Fatalf("no answer through the gateway: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if got.ID != 0x603 || got.DLC != 4 || got.Data[2] != 0x10 || got.Timestamp == 0 {
		t.Fatalf("answer %+v", got)
	}
	if sent := peer.Sent(); len(sent) != 1 || sent[0].ID != 0x602 {
		t.Fatalf("bus saw %v", sent)
	}
	if srv.Clients() != 1 {
		t.Fatalf("Clients() = %d", srv.Clients())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if srv.Clients() != 0 {
		t.Fatalf("clients left after shutdown: %d", srv.Clients())
	}
}

func TestNew_ClientTableFull(t *testing.T) {
	disp, err := kefexcan.NewDispatcher(adapter.NewVirtual(false), kefexcan.WithMaxClients(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(disp); err != nil {
		t.Fatal(err)
	}
	if _, err := New(disp); !errors.Is(err, kefexcan.ErrResourceExhausted) {
		t.Fatalf("New() on full table = %v, want ErrResourceExhausted", err)
	}
}

func TestBroadcast_DropsStalledClient(t *testing.T) {
	srv := &Server{log: zerolog.Nop(), wto: 20 * time.Millisecond, clients: make(map[*conn]struct{})}

	stalled, stalledPeer := net.Pipe()
	defer stalledPeer.Close()
	live, livePeer := net.Pipe()
	defer livePeer.Close()
	srv.add(stalled)
	srv.add(live)

	f := kefexcan.MustFrame(0x123, []byte{0xAA, 0xBB}).Rx(1)
	want, err := f.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(want))
		n, _ := io.ReadFull(livePeer, buf)
		got <- buf[:n]
	}()

	done := make(chan struct{})
	go func() {
		srv.broadcast(f)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a client that never reads")
	}
	if n := srv.Clients(); n != 1 {
		t.Fatalf("Clients() = %d after stalled write, want 1", n)
	}
	select {
	case b := <-got:
		if !bytes.Equal(b, want) {
			t.Fatalf("live client got % X, want % X", b, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live client got nothing")
	}
}
