package udp

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/juicebox-server/juicebox-service/pkg/juicebox"
)

const sampleStatus = "0910042001260513476122621631:v09u,s627,F31,u01254993,V2414,L00004555804,S02,T28,M0040,C0032,m0040,t29,i23,e-0001,f5999,r61,b000,B0000000,P0,E0004495,A00155,p0000!55M:"

func startListener(t *testing.T) (*Listener, *net.UDPConn) {
	t.Helper()
	l, err := Listen("127.0.0.1:0", 1024, 4)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	l.now = func() time.Time { return time.Date(2024, 1, 1, 14, 5, 0, 0, time.Local) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	device, err := net.DialUDP("udp", nil, l.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	t.Cleanup(func() { device.Close() })
	return l, device
}

func accept(t *testing.T, l *Listener) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return c.(*Conn)
}

func readEvent(t *testing.T, c *Conn) (juicebox.Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.ReadEvent(ctx)
}

func TestStatusAndCommandRoundTrip(t *testing.T) {
	l, device := startListener(t)

	if _, err := device.Write([]byte(sampleStatus)); err != nil {
		t.Fatal(err)
	}
	c := accept(t, l)
	if c.RemoteAddr() != device.LocalAddr().String() {
		t.Errorf("RemoteAddr = %s, want %s", c.RemoteAddr(), device.LocalAddr())
	}

	ev, err := readEvent(t, c)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if ev.Kind != juicebox.EventStatusReport || ev.Message.DeviceID != "0910042001260513476122621631" {
		t.Fatalf("event = %+v", ev)
	}

	if err := c.SendCurrentCommand(32, 32); err != nil {
		t.Fatalf("SendCurrentCommand: %v", err)
	}

	buf := make([]byte, 256)
	device.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := device.Read(buf)
	if err != nil {
		t.Fatalf("device read: %v", err)
	}
	got := string(buf[:n])
	want := juicebox.Command{Time: l.now(), InstantAmps: 32, OfflineAmps: 32, Counter: 628}
	wantBytes, _ := want.Encode()
	if got != string(wantBytes) {
		t.Errorf("command = %q, want %q", got, wantBytes)
	}
	if !strings.HasPrefix(got, "CMD11405A32M32C006S628!") || !strings.HasSuffix(got, "$") {
		t.Errorf("unexpected command layout %q", got)
	}
}

func TestDebugMessageIsKeepalive(t *testing.T) {
	l, device := startListener(t)
	device.Write([]byte("0910042001260513476122621631:DBG,NFO:wifi rssi -61:"))

	c := accept(t, l)
	ev, err := readEvent(t, c)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != juicebox.EventKeepalive || ev.Message.DebugText != "wifi rssi -61" {
		t.Errorf("event = %+v", ev)
	}
}

func TestMalformedDatagramIsDecodeError(t *testing.T) {
	l, device := startListener(t)
	device.Write([]byte("hello"))

	c := accept(t, l)
	_, err := readEvent(t, c)
	var derr juicebox.DecodeError
	if !errors.As(err, &derr) {
		t.Errorf("err = %v, want DecodeError", err)
	}
}

func TestCloseDisconnectsAndFreesAddress(t *testing.T) {
	l, device := startListener(t)
	device.Write([]byte(sampleStatus))

	c := accept(t, l)
	if _, err := readEvent(t, c); err != nil {
		t.Fatal(err)
	}
	c.Close()

	ev, err := readEvent(t, c)
	if err != nil || ev.Kind != juicebox.EventDisconnect {
		t.Fatalf("after Close: %+v, %v", ev, err)
	}
	if err := c.SendCurrentCommand(0, 0); !errors.Is(err, net.ErrClosed) {
		t.Errorf("send after Close: %v", err)
	}
	if l.Peers() != 0 {
		t.Errorf("Peers = %d", l.Peers())
	}

	device.Write([]byte(sampleStatus))
	next := accept(t, l)
	if next == c {
		t.Error("closed stream was reused")
	}
}

func TestDispatchSkipsClosedStream(t *testing.T) {
	l, err := Listen("127.0.0.1:0", 1024, 4)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	addr := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 50000}

	l.dispatch(addr, datagram{data: []byte(sampleStatus), at: time.Now()})
	stale := accept(t, l)
	if _, err := readEvent(t, stale); err != nil {
		t.Fatal(err)
	}

	// closed but still registered, as when Close races a read
	close(stale.done)
	l.dispatch(addr, datagram{data: []byte(sampleStatus), at: time.Now()})

	fresh := accept(t, l)
	if fresh == stale {
		t.Fatal("datagram queued on a closed stream")
	}
	ev, err := readEvent(t, fresh)
	if err != nil || ev.Kind != juicebox.EventStatusReport {
		t.Fatalf("fresh stream: %+v, %v", ev, err)
	}
	if l.Peers() != 1 {
		t.Errorf("Peers = %d, want 1", l.Peers())
	}
}
