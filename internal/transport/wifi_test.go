package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

type testServer struct {
	listener net.Listener
	accepted chan net.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &testServer{listener: ln, accepted: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(srv.accepted)
			return
		}
		srv.accepted <- conn
	}()
	t.Cleanup(func() {
		_ = ln.Close()
	})

	return srv
}

func (s *testServer) params() ConnectParams {
	addr := s.listener.Addr().(*net.TCPAddr)
	return ConnectParams{Host: "127.0.0.1", Port: addr.Port}
}

func (s *testServer) conn(t *testing.T) net.Conn {
	t.Helper()

	select {
	case conn, ok := <-s.accepted:
		if !ok {
			t.Fatalf("server accept failed")
		}
		t.Cleanup(func() {
			_ = conn.Close()
		})
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for client connection")
	}
	return nil
}

func newFastWiFiTransport() *WiFiTransport {
	tr := NewWiFiTransport(nil)
	tr.ioTimeout = time.Second
	tr.pollInterval = 10 * time.Millisecond
	tr.idleInterval = 10 * time.Millisecond
	tr.joinTimeout = time.Second

	return tr
}

func connectTestWiFi(t *testing.T) (*WiFiTransport, net.Conn) {
	t.Helper()

	srv := newTestServer(t)
	tr := newFastWiFiTransport()
	if !tr.Connect(context.Background(), srv.params()) {
		t.Fatalf("connect failed: %v", tr.LastError())
	}
	t.Cleanup(tr.Disconnect)

	return tr, srv.conn(t)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestWiFiDisconnectWithoutConnectIsNoop(t *testing.T) {
	tr := newFastWiFiTransport()
	tr.Disconnect()
	tr.Disconnect()

	if tr.Connected() {
		t.Fatalf("expected transport to stay disconnected")
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", tr.State())
	}
}

func TestWiFiSendWhileDisconnectedFails(t *testing.T) {
	tr := newFastWiFiTransport()
	if tr.Send([]byte{0x01}) {
		t.Fatalf("expected send to fail without a connection")
	}
}

func TestWiFiStartReceivingWithoutConnectionDoesNotStartLoop(t *testing.T) {
	tr := newFastWiFiTransport()
	tr.StartReceiving(func([]byte) {})

	tr.mu.Lock()
	receiver := tr.receiver
	tr.mu.Unlock()
	if receiver != nil {
		t.Fatalf("receive loop must not start while disconnected")
	}
	tr.StopReceiving()
}

func TestWiFiSendDeliversBytesInOrder(t *testing.T) {
	tr, server := connectTestWiFi(t)

	var want []byte
	for i := 0; i < 64; i++ {
		chunk := []byte{byte(i), byte(i >> 8), 0xAA}
		want = append(want, chunk...)
		if !tr.Send(chunk) {
			t.Fatalf("send %d failed: %v", i, tr.LastError())
		}
	}

	got := make([]byte, len(want))
	_ = server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("read sent bytes: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("bytes arrived out of order")
	}
}

func TestWiFiReceiveDeliversPayload(t *testing.T) {
	tr, server := connectTestWiFi(t)

	var (
		mu       sync.Mutex
		received []byte
	)
	tr.StartReceiving(func(payload []byte) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, payload...)
	})

	want := []byte("hello camera")
	if _, err := server.Write(want); err != nil {
		t.Fatalf("server write: %v", err)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Equal(received, want)
	})
	if !ok {
		mu.Lock()
		defer mu.Unlock()
		t.Fatalf("expected %q, got %q", want, received)
	}
}

func TestWiFiNoCallbacksAfterStopReceiving(t *testing.T) {
	tr, server := connectTestWiFi(t)

	var (
		mu    sync.Mutex
		calls int
	)
	tr.StartReceiving(func([]byte) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	if _, err := server.Write([]byte{0x01}); err != nil {
		t.Fatalf("server write: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}) {
		t.Fatalf("first payload was not delivered")
	}

	tr.StopReceiving()
	if _, err := server.Write([]byte{0x02}); err != nil {
		t.Fatalf("server write: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("callback invoked after StopReceiving: %d calls", calls)
	}
	if !tr.Connected() {
		t.Fatalf("StopReceiving must not close the connection")
	}
}

func TestWiFiConnectFailureIsClassified(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	tr := newFastWiFiTransport()
	if tr.Connect(context.Background(), ConnectParams{Host: "127.0.0.1", Port: port}) {
		t.Fatalf("expected connect to a closed port to fail")
	}
	if !errors.Is(tr.LastError(), ErrConnectionFailure) {
		t.Fatalf("expected ErrConnectionFailure, got %v", tr.LastError())
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", tr.State())
	}
}

func TestWiFiConnectAppliesDefaults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := newFastWiFiTransport()
	if tr.Connect(ctx, ConnectParams{}) {
		t.Fatalf("expected connect with a cancelled context to fail")
	}
	if got, want := tr.StatusTarget(), "192.168.42.1:6666"; got != want {
		t.Fatalf("expected target %q, got %q", want, got)
	}
}

func TestWiFiPeerCloseDropsConnection(t *testing.T) {
	tr, server := connectTestWiFi(t)
	tr.StartReceiving(func([]byte) {})

	_ = server.Close()

	if !waitFor(t, 2*time.Second, func() bool { return !tr.Connected() }) {
		t.Fatalf("expected peer close to drop the connection")
	}
	if !errors.Is(tr.LastError(), ErrConnectionFailure) {
		t.Fatalf("expected ErrConnectionFailure, got %v", tr.LastError())
	}
	if tr.Send([]byte{0x01}) {
		t.Fatalf("send must fail after the connection dropped")
	}
}

func TestWiFiConnectionInfo(t *testing.T) {
	srv := newTestServer(t)
	tr := newFastWiFiTransport()

	if got := tr.ConnectionInfo(); got != "WiFi (disconnected)" {
		t.Fatalf("unexpected info before connect: %q", got)
	}

	params := srv.params()
	if !tr.Connect(context.Background(), params) {
		t.Fatalf("connect failed: %v", tr.LastError())
	}
	_ = srv.conn(t)
	if !tr.Connect(context.Background(), params) {
		t.Fatalf("second connect on a live link must succeed")
	}

	want := "WiFi " + net.JoinHostPort(params.Host, strconv.Itoa(params.Port))
	if got := tr.ConnectionInfo(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	tr.Disconnect()
	if got := tr.ConnectionInfo(); got != "WiFi (disconnected)" {
		t.Fatalf("unexpected info after disconnect: %q", got)
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", tr.State())
	}
}

