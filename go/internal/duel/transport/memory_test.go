package transport

import (
	"errors"
	"testing"
)

type recorder struct {
	id     string
	events []string
	conns  []Connection
	errs   []error
}

func (r *recorder) OnReady(id string)         { r.id = id; r.events = append(r.events, "ready") }
func (r *recorder) OnConnection(c Connection) { r.events = append(r.events, "connection:"+c.PeerID()) }
func (r *recorder) OnOpen(c Connection) {
	r.conns = append(r.conns, c)
	r.events = append(r.events, "open:"+c.PeerID())
}
func (r *recorder) OnData(c Connection, msg []byte) {
	r.events = append(r.events, "data:"+c.PeerID()+":"+string(msg))
}
func (r *recorder) OnClose(c Connection) { r.events = append(r.events, "close:"+c.PeerID()) }
func (r *recorder) OnError(err error)    { r.errs = append(r.errs, err) }

func startPair(t *testing.T) (*Network, *recorder, *recorder, Connection) {
	t.Helper()
	n := NewNetwork()
	host, guest := n.NewTransportWithID("host"), n.NewTransportWithID("guest")
	hr, gr := &recorder{}, &recorder{}
	if err := host.Start(hr); err != nil {
		t.Fatalf("start host: %v", err)
	}
	if err := guest.Start(gr); err != nil {
		t.Fatalf("start guest: %v", err)
	}
	n.Flush()
	conn, err := guest.Connect("host")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	n.Flush()
	return n, hr, gr, conn
}

func TestMemoryConnectAndOrderedDelivery(t *testing.T) {
	n, hr, gr, conn := startPair(t)

	if hr.id != "host" || gr.id != "guest" {
		t.Fatalf("unexpected ids: host=%q guest=%q", hr.id, gr.id)
	}
	if !conn.IsOpen() {
		t.Fatalf("expected dialer connection to be open")
	}

	for _, msg := range []string{"a", "b", "c"} {
		if err := conn.Send([]byte(msg)); err != nil {
			t.Fatalf("send %q: %v", msg, err)
		}
	}
	n.Flush()

	want := []string{"ready", "connection:guest", "open:guest", "data:guest:a", "data:guest:b", "data:guest:c"}
	if len(hr.events) != len(want) {
		t.Fatalf("host events = %v, want %v", hr.events, want)
	}
	for i := range want {
		if hr.events[i] != want[i] {
			t.Fatalf("host event %d = %q, want %q", i, hr.events[i], want[i])
		}
	}
}

func TestMemoryCloseIsFinal(t *testing.T) {
	n, hr, gr, conn := startPair(t)

	if err := conn.Send([]byte("last")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Send([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	n.Flush()

	if got := hr.events[len(hr.events)-2:]; got[0] != "data:guest:last" || got[1] != "close:guest" {
		t.Fatalf("expected data before close on host, got %v", hr.events)
	}
	if got := gr.events[len(gr.events)-1]; got != "close:host" {
		t.Fatalf("expected guest close event, got %v", gr.events)
	}
}

func TestMemoryUnknownPeer(t *testing.T) {
	n := NewNetwork()
	guest := n.NewTransport()
	gr := &recorder{}
	if err := guest.Start(gr); err != nil {
		t.Fatalf("start: %v", err)
	}
	n.Flush()

	if _, err := guest.Connect("nobody"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	n.Flush()

	if len(gr.errs) != 1 || !errors.Is(gr.errs[0], ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", gr.errs)
	}
}

func TestMemoryDropFunc(t *testing.T) {
	n, hr, _, conn := startPair(t)
	n.SetDropFunc(func(from, to string, msg []byte) bool { return string(msg) == "lost" })

	_ = conn.Send([]byte("lost"))
	_ = conn.Send([]byte("kept"))
	n.Flush()

	last := hr.events[len(hr.events)-1]
	if last != "data:guest:kept" {
		t.Fatalf("expected only kept message, got %v", hr.events)
	}
	for _, ev := range hr.events {
		if ev == "data:guest:lost" {
			t.Fatalf("dropped message was delivered")
		}
	}
}

func TestMemoryTransportCloseNotifiesRemote(t *testing.T) {
	n := NewNetwork()
	host, guest := n.NewTransportWithID("host"), n.NewTransportWithID("guest")
	hr, gr := &recorder{}, &recorder{}
	_ = host.Start(hr)
	_ = guest.Start(gr)
	n.Flush()
	if _, err := guest.Connect("host"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	n.Flush()

	before := len(hr.events)
	if err := host.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	n.Flush()

	if len(hr.events) != before {
		t.Fatalf("closed endpoint received events: %v", hr.events[before:])
	}
	if gr.events[len(gr.events)-1] != "close:host" {
		t.Fatalf("expected guest to observe close, got %v", gr.events)
	}
}
