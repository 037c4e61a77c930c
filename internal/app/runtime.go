package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/camlink/internal/bus"
	"github.com/skobkin/camlink/internal/capture"
	"github.com/skobkin/camlink/internal/config"
	"github.com/skobkin/camlink/internal/connectors"
	"github.com/skobkin/camlink/internal/link"
	"github.com/skobkin/camlink/internal/logging"
	"github.com/skobkin/camlink/internal/transport"
)

// linkStopTimeout covers the slowest transport teardown (BLE graceful
// disconnect plus loop join).
const linkStopTimeout = 10 * time.Second

// Runtime wires configuration, logging, the bus, optional frame capture and
// the link supervisor for one transport.
type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager  *logging.Manager
	Bus         *bus.PubSubBus
	DB          *sql.DB
	FrameRepo   *capture.FrameRepo
	WriterQueue *capture.WriterQueue

	Transport transport.Transport
	Link      *link.Service

	startOnce sync.Once
	started   atomic.Bool

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnStatus
	connStatusKnown bool
}

// Initialize builds the runtime without connecting. Call Start to bring the
// link up.
func Initialize(parent context.Context, paths Paths, cfg config.AppConfig) (*Runtime, error) {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting camlink runtime", "version", BuildVersion(), "medium", cfg.Connection.Medium, "target", ConnectionTarget(cfg.Connection))

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	connSub := b.Subscribe(connectors.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)

	if cfg.Capture.Enabled {
		if err := rt.openCapture(ctx); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	tr, err := NewTransportForConnection(cfg.Connection, logMgr.Base())
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	rt.Transport = tr
	rt.Link = link.NewService(logMgr.Logger("link"), b, tr, LinkOptionsFromConfig(cfg))

	return rt, nil
}

// LinkOptionsFromConfig maps persisted settings to link supervisor options.
func LinkOptionsFromConfig(cfg config.AppConfig) link.Options {
	return link.Options{
		Params:     ConnectParamsFromConfig(cfg.Connection),
		Reconnect:  cfg.Link.Reconnect,
		MinBackoff: time.Duration(cfg.Link.MinBackoffSeconds) * time.Second,
		MaxBackoff: time.Duration(cfg.Link.MaxBackoffSeconds) * time.Second,
	}
}

func (r *Runtime) openCapture(ctx context.Context) error {
	path := strings.TrimSpace(r.Config.Capture.Path)
	if path == "" {
		path = r.Paths.CaptureFile
	}

	db, err := capture.Open(ctx, path)
	if err != nil {
		return fmt.Errorf("open capture db: %w", err)
	}
	r.DB = db
	r.FrameRepo = capture.NewFrameRepo(db)

	r.WriterQueue = capture.NewWriterQueue(r.LogManager.Logger("capture"), 512)
	r.WriterQueue.Start(ctx)
	capture.StartCaptureProjection(ctx, r.Bus, r.WriterQueue, r.FrameRepo)
	slog.Info("capturing frames", "path", path)

	return nil
}

// Start launches the link supervisor. Calling it again is a no-op.
func (r *Runtime) Start() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		r.Link.Start(r.Ctx)
	})
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(connectors.ConnStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (connectors.ConnStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

// Close stops the link, waiting for the transport teardown, then releases
// the bus, capture database and log file.
func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Link != nil && r.started.Load() {
		select {
		case <-r.Link.Done():
		case <-time.After(linkStopTimeout):
			slog.Warn("link did not stop in time", "timeout", linkStopTimeout)
		}
	} else if r.Transport != nil {
		r.Transport.Disconnect()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	return nil
}
