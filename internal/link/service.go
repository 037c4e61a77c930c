// Package link keeps a transport connected and bridges it to the message bus.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/camlink/internal/bus"
	"github.com/skobkin/camlink/internal/connectors"
	"github.com/skobkin/camlink/internal/transport"
)

const (
	defaultMinBackoff   = time.Second
	defaultMaxBackoff   = 15 * time.Second
	defaultPollInterval = time.Second
	outboxSize          = 128
)

var (
	ErrEmptyPayload = errors.New("payload is empty")
	ErrOutboxFull   = errors.New("send queue is full")
	ErrStopped      = errors.New("link service is stopped")
)

type SendResult struct {
	Len int
	Err error
}

type sendRequest struct {
	payload []byte
	result  chan SendResult
}

// Options configures a Service.
type Options struct {
	Params    transport.ConnectParams
	Reconnect bool
	// MinBackoff and MaxBackoff bound the delay between connect attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// PollInterval is how often a live link is checked for drops.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinBackoff <= 0 {
		o.MinBackoff = defaultMinBackoff
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = max(defaultMaxBackoff, o.MinBackoff)
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}

	return o
}

type statusTargetResolver interface {
	StatusTarget() string
}

// Service supervises one transport: it connects with backoff, publishes
// status and raw frames on the bus, and serializes outgoing sends.
type Service struct {
	logger    *slog.Logger
	transport transport.Transport
	bus       bus.MessageBus
	opts      Options
	outbox    chan sendRequest
	done      chan struct{}

	stopMu  sync.Mutex
	stopped bool
}

func NewService(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, opts Options) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		logger:    logger.With("transport", tr.Name()),
		transport: tr,
		bus:       b,
		opts:      opts.withDefaults(),
		outbox:    make(chan sendRequest, outboxSize),
		done:      make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.runOutbox(ctx)
	go s.runConnector(ctx)
}

// Done is closed once the connector loop has exited and the transport is
// disconnected.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Send queues payload for delivery. The result channel receives exactly one
// value.
func (s *Service) Send(payload []byte) <-chan SendResult {
	resCh := make(chan SendResult, 1)
	if len(payload) == 0 {
		resCh <- SendResult{Err: ErrEmptyPayload}
		close(resCh)
		return resCh
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stopped {
		resCh <- SendResult{Err: ErrStopped}
		close(resCh)
		return resCh
	}
	select {
	case s.outbox <- sendRequest{payload: data, result: resCh}:
	default:
		resCh <- SendResult{Err: ErrOutboxFull}
		close(resCh)
	}

	return resCh
}

func (s *Service) runConnector(ctx context.Context) {
	defer close(s.done)
	defer s.transport.Disconnect()

	backoff := s.opts.MinBackoff
	for {
		if err := ctx.Err(); err != nil {
			s.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
			return
		}

		s.publishConnStatus(connectors.ConnectionStateConnecting, nil)
		if !s.transport.Connect(ctx, s.opts.Params) {
			err := s.lastError("connect failed")
			if ctx.Err() != nil {
				s.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
				return
			}
			if !s.opts.Reconnect || errors.Is(err, transport.ErrDependencyUnavailable) {
				s.logger.Error("transport connect failed, giving up", "error", err)
				s.publishConnStatus(connectors.ConnectionStateDisconnected, err)
				return
			}

			s.logger.Error("transport connect failed", "error", err, "retry_in", backoff)
			s.publishConnStatus(connectors.ConnectionStateReconnecting, err)
			if !sleepWithContext(ctx, backoff) {
				s.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
				return
			}
			backoff = nextBackoff(backoff, s.opts.MaxBackoff)
			continue
		}

		backoff = s.opts.MinBackoff
		// The callback is in place before Connected is published; subscribers
		// may send as soon as they see it.
		s.transport.StartReceiving(s.handleInbound)
		s.logger.Info("link up", "info", s.transport.ConnectionInfo())
		s.publishConnStatus(connectors.ConnectionStateConnected, nil)

		err := s.watch(ctx)
		s.transport.StopReceiving()
		s.transport.Disconnect()

		if ctx.Err() != nil {
			s.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
			return
		}
		if !s.opts.Reconnect {
			s.logger.Warn("link lost", "error", err)
			s.publishConnStatus(connectors.ConnectionStateDisconnected, err)
			return
		}

		s.logger.Warn("link lost, reconnecting", "error", err, "retry_in", backoff)
		s.publishConnStatus(connectors.ConnectionStateReconnecting, err)
		if !sleepWithContext(ctx, backoff) {
			s.publishConnStatus(connectors.ConnectionStateDisconnected, nil)
			return
		}
		backoff = nextBackoff(backoff, s.opts.MaxBackoff)
	}
}

// watch polls the transport until the link drops or ctx ends. Transports do
// not push disconnect events, so polling is the only drop signal.
func (s *Service) watch(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.transport.Connected() {
				return s.lastError("link dropped")
			}
		}
	}
}

func (s *Service) handleInbound(payload []byte) {
	s.bus.Publish(connectors.TopicRawFrameIn, connectors.NewRawFrame(connectors.FrameDirectionIn, s.transport.Name(), payload, time.Now()))
}

func (s *Service) runOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.stopOutbox()
			return
		case <-s.done:
			s.stopOutbox()
			return
		case req := <-s.outbox:
			req.result <- s.handleSend(req)
			close(req.result)
		}
	}
}

func (s *Service) handleSend(req sendRequest) SendResult {
	if !s.transport.Connected() {
		return SendResult{Err: fmt.Errorf("send %d bytes: %w", len(req.payload), transport.ErrNotConnected)}
	}
	if !s.transport.Send(req.payload) {
		return SendResult{Err: fmt.Errorf("send %d bytes: %w", len(req.payload), s.lastError("send failed"))}
	}

	s.bus.Publish(connectors.TopicRawFrameOut, connectors.NewRawFrame(connectors.FrameDirectionOut, s.transport.Name(), req.payload, time.Now()))
	return SendResult{Len: len(req.payload)}
}

// stopOutbox rejects further sends and fails the ones still queued.
func (s *Service) stopOutbox() {
	s.stopMu.Lock()
	s.stopped = true
	s.stopMu.Unlock()

	for {
		select {
		case req := <-s.outbox:
			req.result <- SendResult{Err: ErrStopped}
			close(req.result)
		default:
			return
		}
	}
}

func (s *Service) publishConnStatus(state connectors.ConnectionState, err error) {
	status := connectors.ConnStatus{
		State:         state,
		TransportName: s.transport.Name(),
		Target:        s.statusTarget(),
		Info:          s.transport.ConnectionInfo(),
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(connectors.TopicConnStatus, status)
}

func (s *Service) statusTarget() string {
	if provider, ok := s.transport.(statusTargetResolver); ok {
		if target := strings.TrimSpace(provider.StatusTarget()); target != "" {
			return target
		}
	}
	if addr := strings.TrimSpace(s.opts.Params.Address); addr != "" {
		return addr
	}

	return ""
}

func (s *Service) lastError(fallback string) error {
	if err := s.transport.LastError(); err != nil {
		return err
	}

	return fmt.Errorf("%w: %s", transport.ErrConnectionFailure, fallback)
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}

	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
