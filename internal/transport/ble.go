package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/camlink/internal/bluetoothutil"
	"github.com/skobkin/camlink/internal/eventloop"
)

const (
	defaultBLEScanWindow               = 5 * time.Second
	defaultBLETimedConnectTimeout      = 20 * time.Second
	defaultBLEIndefiniteConnectTimeout = time.Hour
	defaultBLEConnectGrace             = 20 * time.Second
	defaultBLESendTimeout              = 2 * time.Second
	defaultBLEGracefulDisconnect       = 5 * time.Second
	defaultBLECancelGrace              = 100 * time.Millisecond
	defaultBLELoopJoinTimeout          = 2 * time.Second
)

type bleTimings struct {
	scanWindow         time.Duration
	timedConnect       time.Duration
	indefiniteConnect  time.Duration
	connectGrace       time.Duration
	send               time.Duration
	gracefulDisconnect time.Duration
	cancelGrace        time.Duration
	loopJoin           time.Duration
}

func defaultBLETimings() bleTimings {
	return bleTimings{
		scanWindow:         defaultBLEScanWindow,
		timedConnect:       defaultBLETimedConnectTimeout,
		indefiniteConnect:  defaultBLEIndefiniteConnectTimeout,
		connectGrace:       defaultBLEConnectGrace,
		send:               defaultBLESendTimeout,
		gracefulDisconnect: defaultBLEGracefulDisconnect,
		cancelGrace:        defaultBLECancelGrace,
		loopJoin:           defaultBLELoopJoinTimeout,
	}
}

// BLEOptions configures a BLETransport.
type BLEOptions struct {
	// AdapterID selects the host adapter (for example "hci1"). Empty uses the default one.
	AdapterID string
	// NewAdapter creates the BLE stack adapter. Defaults to bluetoothutil.NewAdapter.
	NewAdapter bluetoothutil.AdapterFactory
}

// BLETransport exchanges raw bytes with the camera over GATT. All link work
// runs as tasks on an event loop goroutine owned by the transport; public
// methods block on the task result with a bound.
type BLETransport struct {
	baseLogger *slog.Logger
	logger     *slog.Logger
	adapterID  string
	newAdapter bluetoothutil.AdapterFactory
	timings    bleTimings

	teardownMu sync.Mutex

	mu            sync.Mutex
	loop          *eventloop.Loop
	adapter       bluetoothutil.Adapter
	device        bluetoothutil.Device
	deviceAddress string
	deviceName    string
	state         State
	lastErr       error
	callback      ReceiveFunc

	// disconnecting is set for the whole of Disconnect. Sends are rejected
	// while it is set.
	disconnecting atomic.Bool
}

func NewBLETransport(logger *slog.Logger, opts BLEOptions) *BLETransport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	newAdapter := opts.NewAdapter
	if newAdapter == nil {
		newAdapter = bluetoothutil.NewAdapter
	}
	adapterID := strings.TrimSpace(opts.AdapterID)

	return &BLETransport{
		baseLogger: logger,
		logger:     transportLogger(logger, "ble", "adapter", adapterID),
		adapterID:  adapterID,
		newAdapter: newAdapter,
		timings:    defaultBLETimings(),
		state:      StateDisconnected,
	}
}

func (t *BLETransport) Name() string {
	return "ble"
}

func (t *BLETransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

func (t *BLETransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.device != nil && t.state == StateConnected
}

func (t *BLETransport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.lastErr
}

// StatusTarget returns the address of the connected or last resolved device.
func (t *BLETransport) StatusTarget() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.deviceAddress
}

func (t *BLETransport) ConnectionInfo() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.device == nil || t.state != StateConnected {
		return "BLE (disconnected)"
	}

	name := t.deviceName
	if name == "" {
		name = t.deviceAddress
	}
	if name == "" {
		name = "Unknown"
	}

	return "BLE " + name
}

// Connect resolves the camera (scanning when params.Address is empty), links
// to it and arms notifications. With a positive ScanTimeout the caller waits
// at most ScanTimeout plus a 20s grace. When that bound expires Connect
// returns false with ErrTimeout but the connect task is abandoned, not
// cancelled: if it completes later the transport reports Connected until
// the next Disconnect or Connect tears it down.
func (t *BLETransport) Connect(ctx context.Context, params ConnectParams) bool {
	logger := t.logger.With("address", strings.TrimSpace(params.Address))
	if t.disconnecting.Load() {
		t.setLastError(fmt.Errorf("connect: %w", ErrTeardownInProgress))
		logger.Debug("connect rejected: teardown in progress")

		return false
	}

	t.mu.Lock()
	if t.device != nil && t.state == StateConnected {
		t.mu.Unlock()
		logger.Debug("connect skipped: already connected")

		return true
	}
	if t.state == StateConnecting {
		t.mu.Unlock()
		logger.Warn("connect skipped: another connect is in progress")

		return false
	}
	stale := t.loop != nil
	t.mu.Unlock()

	if stale {
		logger.Debug("releasing event loop left by an earlier connect")
		t.Disconnect()
	}

	loop := eventloop.New(t.baseLogger, "ble")
	t.mu.Lock()
	t.loop = loop
	t.state = StateConnecting
	t.mu.Unlock()
	loop.Start()

	fut := eventloop.Submit(loop, "connect", func(taskCtx context.Context) (bluetoothutil.Device, error) {
		return t.connectTask(taskCtx, params)
	})

	waitCtx := ctx
	var bound time.Duration
	if params.ScanTimeout > 0 {
		bound = params.ScanTimeout + t.timings.connectGrace
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, bound)
		defer cancel()
	}

	_, err := fut.Await(waitCtx)
	if err == nil {
		return true
	}

	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		// The connect task is left running; the next Disconnect or Connect
		// tears it down.
		t.failConnect(fmt.Errorf("%w: connect did not finish within %s", ErrTimeout, bound))
		logger.Error("connect timed out, background connect abandoned", "timeout", bound)

		return false
	}

	if ctx.Err() != nil {
		fut.Cancel()
		err = fmt.Errorf("connect cancelled: %w", ctx.Err())
	}
	t.failConnect(err)
	switch {
	case errors.Is(err, ErrDependencyUnavailable):
		logger.Error("BLE stack unavailable; install and start BlueZ or use a build with bluetooth support", "error", err)
	case t.disconnecting.Load() || errors.Is(err, ErrTeardownInProgress):
		logger.Debug("connect interrupted by disconnect", "error", err)
	default:
		logger.Error("connect failed", "error", err)
	}
	t.releaseLoop(loop)

	return false
}

// Disconnect tears the link down and unregisters the receive callback.
func (t *BLETransport) Disconnect() {
	t.teardownMu.Lock()
	defer t.teardownMu.Unlock()

	t.disconnecting.Store(true)
	defer t.disconnecting.Store(false)

	t.mu.Lock()
	loop := t.loop
	device := t.device
	if t.state != StateDisconnected {
		t.state = StateDisconnecting
	}
	t.mu.Unlock()

	if loop == nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		t.logger.Debug("disconnect skipped: not connected")

		return
	}

	if device != nil {
		fut := eventloop.Submit(loop, "disconnect", func(context.Context) (struct{}, error) {
			return struct{}{}, closeDevice(device)
		})
		ctx, cancel := context.WithTimeout(context.Background(), t.timings.gracefulDisconnect)
		if _, err := fut.Await(ctx); err != nil {
			t.logger.Debug("graceful disconnect failed", "error", err)
		}
		cancel()
	}

	t.stopLoop(loop)

	t.mu.Lock()
	if t.loop == loop {
		t.loop = nil
	}
	late := t.device
	t.device = nil
	t.deviceAddress = ""
	t.deviceName = ""
	t.callback = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	if late != nil && late != device {
		// Brought up by an abandoned connect task after the graceful phase.
		_ = closeDevice(late)
	}
	t.logger.Info("disconnected")
}

func (t *BLETransport) Send(payload []byte) bool {
	if t.disconnecting.Load() {
		t.logger.Debug("send rejected: teardown in progress")

		return false
	}

	t.mu.Lock()
	loop := t.loop
	device := t.device
	connected := t.state == StateConnected
	t.mu.Unlock()
	if loop == nil || device == nil || !connected {
		t.logger.Debug("send failed: not connected")

		return false
	}

	fut := eventloop.Submit(loop, "send", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.sendTask(ctx, device, payload)
	})
	ctx, cancel := context.WithTimeout(context.Background(), t.timings.send)
	defer cancel()

	_, err := fut.Await(ctx)
	if err == nil {
		t.logger.Debug("sent", "payload_len", len(payload))

		return true
	}
	fut.Cancel()

	switch {
	case t.disconnecting.Load(),
		errors.Is(err, ErrTeardownInProgress),
		errors.Is(err, context.Canceled),
		errors.Is(err, eventloop.ErrStopped):
		t.logger.Debug("send aborted by teardown", "error", err)
	case errors.Is(err, eventloop.ErrQueueFull):
		t.setLastError(fmt.Errorf("%w: %w", ErrTimeout, err))
		t.logger.Warn("send rejected: too many writes in flight", "payload_len", len(payload))
	case errors.Is(err, context.DeadlineExceeded):
		t.setLastError(fmt.Errorf("%w: send did not finish within %s", ErrTimeout, t.timings.send))
		t.logger.Error("send timed out", "payload_len", len(payload), "timeout", t.timings.send)
	default:
		t.setLastError(err)
		t.logger.Error("send failed", "payload_len", len(payload), "error", err)
	}

	return false
}

// StartReceiving registers cb. Notifications are armed by Connect.
func (t *BLETransport) StartReceiving(cb ReceiveFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = cb
}

// StopReceiving unregisters the callback. Notifications stay armed until Disconnect.
func (t *BLETransport) StopReceiving() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback = nil
}

func (t *BLETransport) connectTask(ctx context.Context, params ConnectParams) (bluetoothutil.Device, error) {
	adapter, err := t.ensureAdapter()
	if err != nil {
		return nil, err
	}
	if err := adapter.Enable(); err != nil {
		if bluetoothutil.IsDependencyUnavailableError(err) {
			return nil, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}

	address := strings.TrimSpace(params.Address)
	name := ""
	if address == "" {
		adv, err := t.discover(ctx, adapter, params.ScanTimeout)
		if err != nil {
			return nil, err
		}
		address = adv.Address
		name = adv.Name
	}

	t.mu.Lock()
	t.deviceAddress = address
	t.deviceName = name
	t.mu.Unlock()

	connectTimeout := t.timings.timedConnect
	if params.ScanTimeout <= 0 {
		connectTimeout = t.timings.indefiniteConnect
	}
	logger := t.logger.With("address", address)
	logger.Info("connecting", "timeout", connectTimeout)

	device, err := adapter.Connect(ctx, address, connectTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("connect %s: %w", address, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}

	logger.Info("link established, enabling notifications")
	if err := device.EnableNotifications(bluetoothutil.CameraNotifyCharUUID, t.handleNotification); err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}

	if err := ctx.Err(); err != nil {
		_ = closeDevice(device)
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	if t.disconnecting.Load() {
		_ = closeDevice(device)
		return nil, fmt.Errorf("connect %s: %w", address, ErrTeardownInProgress)
	}

	t.mu.Lock()
	t.device = device
	t.state = StateConnected
	t.lastErr = nil
	t.mu.Unlock()

	display := name
	if display == "" {
		display = address
	}
	logger.Info("connected", "device", display)

	return device, nil
}

func (t *BLETransport) discover(ctx context.Context, adapter bluetoothutil.Adapter, scanTimeout time.Duration) (bluetoothutil.Advertisement, error) {
	if scanTimeout > 0 {
		return t.scanTimed(ctx, adapter, scanTimeout)
	}

	return t.scanUntilFound(ctx, adapter)
}

// scanTimed runs a single discovery pass of the given duration and picks the
// first camera seen in it.
func (t *BLETransport) scanTimed(ctx context.Context, adapter bluetoothutil.Adapter, timeout time.Duration) (bluetoothutil.Advertisement, error) {
	t.logger.Info("scanning for camera", "timeout", timeout)

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		seen  []bluetoothutil.Advertisement
		index = make(map[string]int)
	)
	err := adapter.Scan(scanCtx, func(adv bluetoothutil.Advertisement) bool {
		mu.Lock()
		defer mu.Unlock()
		if i, ok := index[adv.Address]; ok {
			seen[i] = mergeAdvertisement(seen[i], adv)
			return false
		}
		index[adv.Address] = len(seen)
		seen = append(seen, adv)
		return false
	})
	if err != nil {
		return bluetoothutil.Advertisement{}, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
	if err := ctx.Err(); err != nil {
		return bluetoothutil.Advertisement{}, fmt.Errorf("scan: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, adv := range seen {
		if adv.HasService(bluetoothutil.CameraServiceUUID) {
			t.logger.Info("found camera", "name", adv.Name, "address", adv.Address)
			return adv, nil
		}
	}

	t.logger.Error("no camera found", "devices_seen", len(seen), "timeout", timeout)
	return bluetoothutil.Advertisement{}, fmt.Errorf("%w: no device advertising %s found within %s", ErrConnectionFailure, bluetoothutil.CameraServiceUUID, timeout)
}

// scanUntilFound repeats bounded scan windows until a camera shows up or ctx
// is cancelled. A window ends early on the first match.
func (t *BLETransport) scanUntilFound(ctx context.Context, adapter bluetoothutil.Adapter) (bluetoothutil.Advertisement, error) {
	t.logger.Info("scanning for camera until one is found")

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			t.logger.Info("still scanning", "attempt", attempt)
		}

		var (
			mu    sync.Mutex
			found *bluetoothutil.Advertisement
		)
		windowCtx, cancel := context.WithTimeout(ctx, t.timings.scanWindow)
		err := adapter.Scan(windowCtx, func(adv bluetoothutil.Advertisement) bool {
			if !adv.HasService(bluetoothutil.CameraServiceUUID) {
				return false
			}
			mu.Lock()
			defer mu.Unlock()
			if found == nil {
				match := adv
				found = &match
			}
			return true
		})
		cancel()
		if err != nil {
			return bluetoothutil.Advertisement{}, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
		}

		mu.Lock()
		match := found
		mu.Unlock()
		if match != nil {
			t.logger.Info("found camera", "name", match.Name, "address", match.Address, "attempt", attempt)
			return *match, nil
		}
		if err := ctx.Err(); err != nil {
			return bluetoothutil.Advertisement{}, fmt.Errorf("scan: %w", err)
		}
	}
}

func (t *BLETransport) sendTask(ctx context.Context, device bluetoothutil.Device, payload []byte) error {
	if t.disconnecting.Load() {
		return ErrTeardownInProgress
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := device.Write(bluetoothutil.CameraWriteCharUUID, payload); err != nil {
		if t.disconnecting.Load() {
			return fmt.Errorf("%w: %w", ErrTeardownInProgress, err)
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
	return nil
}

func (t *BLETransport) handleNotification(payload []byte) {
	cb := t.currentCallback()
	if cb == nil {
		t.logger.Debug("notification dropped: no receiver", "len", len(payload))
		return
	}

	data := make([]byte, len(payload))
	copy(data, payload)
	cb(data)
}

func (t *BLETransport) ensureAdapter() (bluetoothutil.Adapter, error) {
	t.mu.Lock()
	adapter := t.adapter
	t.mu.Unlock()
	if adapter != nil {
		return adapter, nil
	}

	adapter, err := t.newAdapter(t.adapterID)
	if err != nil {
		if bluetoothutil.IsDependencyUnavailableError(err) {
			return nil, fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
		}
		return nil, fmt.Errorf("%w: create adapter: %w", ErrConnectionFailure, err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: no bluetooth adapter", ErrDependencyUnavailable)
	}

	t.mu.Lock()
	t.adapter = adapter
	t.mu.Unlock()

	return adapter, nil
}

func (t *BLETransport) failConnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateConnecting {
		t.state = StateDisconnected
	}
	t.lastErr = err
}

// releaseLoop tears down loop after a failed connect, unless Disconnect got
// there first.
func (t *BLETransport) releaseLoop(loop *eventloop.Loop) {
	t.teardownMu.Lock()
	defer t.teardownMu.Unlock()

	t.mu.Lock()
	owned := t.loop == loop
	if owned {
		t.loop = nil
	}
	t.mu.Unlock()
	if !owned {
		return
	}

	t.stopLoop(loop)
}

func (t *BLETransport) stopLoop(loop *eventloop.Loop) {
	if n := loop.CancelPending(); n > 0 {
		t.logger.Debug("cancelled pending operations", "count", n)
		time.Sleep(t.timings.cancelGrace)
	}
	loop.Stop()
	if !loop.Join(t.timings.loopJoin) {
		t.logger.Warn("event loop did not stop in time", "timeout", t.timings.loopJoin)
	}
}

func (t *BLETransport) setLastError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = err
}

func (t *BLETransport) currentCallback() ReceiveFunc {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.callback
}

func closeDevice(device bluetoothutil.Device) error {
	var closeErr error
	if err := device.DisableNotifications(bluetoothutil.CameraNotifyCharUUID); err != nil {
		closeErr = errors.Join(closeErr, err)
	}
	if err := device.Disconnect(); err != nil {
		closeErr = errors.Join(closeErr, err)
	}

	return closeErr
}

func mergeAdvertisement(existing, next bluetoothutil.Advertisement) bluetoothutil.Advertisement {
	merged := existing
	if len(strings.TrimSpace(next.Name)) > len(strings.TrimSpace(merged.Name)) {
		merged.Name = next.Name
	}
	if next.RSSI > merged.RSSI {
		merged.RSSI = next.RSSI
	}
	for _, uuid := range next.ServiceUUIDs {
		if !merged.HasService(uuid) {
			merged.ServiceUUIDs = append(merged.ServiceUUIDs, uuid)
		}
	}

	return merged
}
