package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultWiFiHost = "192.168.42.1"
	DefaultWiFiPort = 6666

	defaultSocketTimeout       = 5 * time.Second
	defaultReceiveChunkSize    = 4096
	defaultReceivePollInterval = 100 * time.Millisecond
	defaultReceiveIdleInterval = 100 * time.Millisecond
	defaultReceiverJoinTimeout = 2 * time.Second
)

type socketReceiver struct {
	stop     chan struct{}
	done     chan struct{}
	stopped  atomic.Bool
	stopOnce sync.Once
}

func newSocketReceiver() *socketReceiver {
	return &socketReceiver{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (r *socketReceiver) halt() {
	r.stopped.Store(true)
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}

func (r *socketReceiver) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// WiFiTransport exchanges raw bytes with the camera over a TCP socket. Reads
// happen only on the receive goroutine; writes are serialized by writeMu.
type WiFiTransport struct {
	logger *slog.Logger

	mu       sync.Mutex
	host     string
	port     int
	conn     net.Conn
	state    State
	lastErr  error
	callback ReceiveFunc
	receiver *socketReceiver

	writeMu sync.Mutex

	ioTimeout    time.Duration
	pollInterval time.Duration
	idleInterval time.Duration
	joinTimeout  time.Duration
}

func NewWiFiTransport(logger *slog.Logger) *WiFiTransport {
	return &WiFiTransport{
		logger:       transportLogger(logger, "wifi"),
		state:        StateDisconnected,
		ioTimeout:    defaultSocketTimeout,
		pollInterval: defaultReceivePollInterval,
		idleInterval: defaultReceiveIdleInterval,
		joinTimeout:  defaultReceiverJoinTimeout,
	}
}

func (t *WiFiTransport) Name() string {
	return "wifi"
}

func (t *WiFiTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *WiFiTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil && t.state == StateConnected
}

func (t *WiFiTransport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.lastErr
}

// StatusTarget returns host:port of the last connection attempt.
func (t *WiFiTransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.host == "" {
		return ""
	}

	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *WiFiTransport) ConnectionInfo() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil && t.state == StateConnected && t.host != "" {
		return "WiFi " + net.JoinHostPort(t.host, strconv.Itoa(t.port))
	}

	return "WiFi (disconnected)"
}

func (t *WiFiTransport) Connect(ctx context.Context, params ConnectParams) bool {
	host := strings.TrimSpace(params.Host)
	if host == "" {
		host = DefaultWiFiHost
	}
	port := params.Port
	if port <= 0 {
		port = DefaultWiFiPort
	}
	target := net.JoinHostPort(host, strconv.Itoa(port))
	logger := t.logger.With("target", target)

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		logger.Debug("connect skipped: already connected")

		return true
	}
	if t.state == StateConnecting {
		t.mu.Unlock()
		logger.Warn("connect skipped: another connect is in progress")

		return false
	}
	t.host = host
	t.port = port
	t.state = StateConnecting
	t.mu.Unlock()

	dialer := net.Dialer{Timeout: t.ioTimeout}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", target)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = StateDisconnected
		t.lastErr = fmt.Errorf("%w: dial tcp %s: %w", ErrConnectionFailure, target, err)
		logger.Error("connect failed", "error", err)

		return false
	}
	if t.state != StateConnecting {
		_ = conn.Close()
		t.lastErr = fmt.Errorf("connect %s: %w", target, ErrTeardownInProgress)
		logger.Debug("connect abandoned: disconnected while dialing")

		return false
	}
	t.conn = conn
	t.state = StateConnected
	t.lastErr = nil
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return true
}

func (t *WiFiTransport) Disconnect() {
	t.StopReceiving()

	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	if conn != nil {
		t.state = StateDisconnecting
	}
	t.mu.Unlock()

	if conn == nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		t.logger.Debug("disconnect skipped: not connected")

		return
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.CloseWrite()
	}
	_ = conn.Close()

	t.mu.Lock()
	t.state = StateDisconnected
	t.mu.Unlock()
	t.logger.Info("closed")
}

func (t *WiFiTransport) Send(payload []byte) bool {
	conn, err := t.currentConn()
	if err != nil {
		t.logger.Debug("send failed: not connected", "error", err)

		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(t.ioTimeout))
	if _, err := conn.Write(payload); err != nil {
		t.logger.Error("send failed", "payload_len", len(payload), "error", err)
		t.dropConnection(conn, fmt.Errorf("write: %w", err))

		return false
	}
	t.logger.Debug("sent", "payload_len", len(payload))

	return true
}

func (t *WiFiTransport) StartReceiving(cb ReceiveFunc) {
	t.mu.Lock()
	t.callback = cb
	if t.receiver != nil && !t.receiver.finished() {
		t.mu.Unlock()
		t.logger.Debug("receive loop already running")

		return
	}
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		t.logger.Warn("receive loop not started: not connected")

		return
	}
	r := newSocketReceiver()
	t.receiver = r
	t.mu.Unlock()

	go t.receiveLoop(r, conn)
	t.logger.Debug("receive loop started")
}

func (t *WiFiTransport) StopReceiving() {
	t.mu.Lock()
	r := t.receiver
	t.receiver = nil
	t.mu.Unlock()
	if r == nil {
		return
	}

	r.halt()
	timer := time.NewTimer(t.joinTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
		t.logger.Debug("receive loop stopped")
	case <-timer.C:
		t.logger.Warn("receive loop did not stop in time", "timeout", t.joinTimeout)
	}
}

func (t *WiFiTransport) receiveLoop(r *socketReceiver, conn net.Conn) {
	defer close(r.done)

	buf := make([]byte, defaultReceiveChunkSize)
	for {
		if r.stopped.Load() {
			return
		}

		received, err := t.pollAndReceive(r, conn, buf)
		if err != nil {
			if r.stopped.Load() {
				return
			}
			t.logger.Warn("receive failed", "error", err)
			t.dropConnection(conn, fmt.Errorf("%w: read: %w", ErrConnectionFailure, err))

			return
		}
		if received {
			continue
		}

		select {
		case <-r.stop:
			return
		case <-time.After(t.idleInterval):
		}
	}
}

// pollAndReceive waits up to pollInterval for data and hands any bytes read
// to the callback. A poll timeout is not an error.
func (t *WiFiTransport) pollAndReceive(r *socketReceiver, conn net.Conn, buf []byte) (bool, error) {
	_ = conn.SetReadDeadline(time.Now().Add(t.pollInterval))
	n, err := conn.Read(buf)
	if n > 0 {
		payload := make([]byte, n)
		copy(payload, buf[:n])
		if cb := t.currentCallback(); cb != nil && !r.stopped.Load() {
			cb(payload)
		}

		return true, nil
	}
	if err == nil {
		return false, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false, nil
	}

	return false, err
}

func (t *WiFiTransport) dropConnection(conn net.Conn, err error) {
	t.mu.Lock()
	dropped := t.conn == conn
	if dropped {
		t.conn = nil
		t.state = StateDisconnected
		t.lastErr = err
	}
	t.mu.Unlock()

	_ = conn.Close()
	if dropped {
		t.logger.Warn("connection dropped", "error", err)
	}
}

func (t *WiFiTransport) currentCallback() ReceiveFunc {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.callback
}

func (t *WiFiTransport) currentConn() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.state != StateConnected {
		return nil, ErrNotConnected
	}

	return t.conn, nil
}
