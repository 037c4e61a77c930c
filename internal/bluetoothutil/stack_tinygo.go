//go:build !nobluetooth

package bluetoothutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"
)

const defaultSubscribeWait = 8 * time.Second

var (
	cameraServiceUUID    = mustParseUUID(CameraServiceUUID)
	cameraWriteCharUUID  = mustParseUUID(CameraWriteCharUUID)
	cameraNotifyCharUUID = mustParseUUID(CameraNotifyCharUUID)
)

func mustParseUUID(raw string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(strings.TrimSpace(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid bluetooth UUID %q: %v", raw, err))
	}

	return uuid
}

type tinyGoAdapter struct {
	adapter *bluetooth.Adapter

	scanMu sync.Mutex

	mu   sync.Mutex
	seen map[string]bluetooth.Address
}

// NewAdapter returns the tinygo-backed adapter for adapterID (empty selects
// the default adapter).
func NewAdapter(adapterID string) (Adapter, error) {
	adapter := ResolveAdapter(adapterID)
	if adapter == nil {
		return nil, ErrStackUnavailable
	}

	return &tinyGoAdapter{
		adapter: adapter,
		seen:    make(map[string]bluetooth.Address),
	}, nil
}

func (a *tinyGoAdapter) Enable() error {
	return EnableAdapter(a.adapter)
}

func (a *tinyGoAdapter) Scan(ctx context.Context, onResult func(Advertisement) bool) error {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	if err := StopScan(a.adapter); err != nil {
		return fmt.Errorf("reset bluetooth scan state: %w", err)
	}

	var (
		stopped  atomic.Bool
		stopOnce sync.Once
		stopCh   = make(chan struct{})
	)
	scanErrCh := make(chan error, 1)
	go func() {
		scanErrCh <- runScan(a.adapter, func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			if stopped.Load() {
				return
			}
			adv := advertisementFromResult(result)
			if adv.Address == "" {
				return
			}
			a.remember(adv.Address, result.Address)
			if onResult(adv) {
				stopped.Store(true)
				stopOnce.Do(func() { close(stopCh) })
			}
		})
	}()

	select {
	case err := <-scanErrCh:
		if err = NormalizeScanError(err); err != nil {
			return fmt.Errorf("scan bluetooth devices: %w", err)
		}
		return nil
	case <-stopCh:
	case <-ctx.Done():
	}

	stopped.Store(true)
	if err := StopScan(a.adapter); err != nil {
		return fmt.Errorf("stop bluetooth scan: %w", err)
	}
	if err := NormalizeScanError(<-scanErrCh); err != nil {
		return fmt.Errorf("scan bluetooth devices: %w", err)
	}

	return nil
}

func (a *tinyGoAdapter) Connect(ctx context.Context, address string, timeout time.Duration) (Device, error) {
	target, err := a.resolveAddress(address)
	if err != nil {
		return nil, err
	}

	params := bluetooth.ConnectionParams{}
	if timeout > 0 {
		params.ConnectionTimeout = bluetooth.NewDuration(timeout)
	}

	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(target, params)
		done <- connectResult{device: device, err: err}
	}()

	var device bluetooth.Device
	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("connect bluetooth device %q: %w", address, res.err)
		}
		device = res.device
	case <-ctx.Done():
		// The stack cannot abort a pending connect; release the link if it
		// comes up after the caller has gone.
		go func() {
			if res := <-done; res.err == nil {
				_ = res.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}

	chars, err := discoverCameraCharacteristics(device)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	return &tinyGoDevice{
		address: address,
		device:  device,
		chars:   chars,
	}, nil
}

func (a *tinyGoAdapter) remember(address string, addr bluetooth.Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen[address] = addr
}

func (a *tinyGoAdapter) resolveAddress(raw string) (bluetooth.Address, error) {
	key := normalizeAddress(raw)
	a.mu.Lock()
	addr, ok := a.seen[key]
	a.mu.Unlock()
	if ok {
		return addr, nil
	}

	return parseAddress(raw)
}

// discoverCameraCharacteristics returns pointers so that notification state
// kept inside a characteristic (the D-Bus signal channel on Linux) survives
// between enable and disable.
func discoverCameraCharacteristics(device bluetooth.Device) (map[string]*bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{cameraServiceUUID})
	if err != nil {
		return nil, fmt.Errorf("discover camera service: %w", err)
	}
	if len(services) == 0 {
		return nil, errors.New("camera BLE service is not available")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{cameraWriteCharUUID, cameraNotifyCharUUID})
	if err != nil {
		return nil, fmt.Errorf("discover camera characteristics: %w", err)
	}

	byUUID := make(map[string]*bluetooth.DeviceCharacteristic, len(chars))
	for i := range chars {
		byUUID[strings.ToLower(chars[i].UUID().String())] = &chars[i]
	}
	for _, want := range []string{CameraWriteCharUUID, CameraNotifyCharUUID} {
		if _, ok := byUUID[want]; !ok {
			return nil, fmt.Errorf("camera characteristic %s is not available", want)
		}
	}

	return byUUID, nil
}

func advertisementFromResult(result bluetooth.ScanResult) Advertisement {
	adv := Advertisement{
		Address: normalizeAddress(result.Address.String()),
		Name:    strings.TrimSpace(result.LocalName()),
		RSSI:    int(result.RSSI),
	}
	// The payload API only answers membership queries, so report the
	// services this package knows about.
	if result.HasServiceUUID(cameraServiceUUID) {
		adv.ServiceUUIDs = append(adv.ServiceUUIDs, CameraServiceUUID)
	}

	return adv
}

type tinyGoDevice struct {
	address string
	device  bluetooth.Device
	chars   map[string]*bluetooth.DeviceCharacteristic
}

func (d *tinyGoDevice) Address() string {
	return d.address
}

func (d *tinyGoDevice) EnableNotifications(charUUID string, callback func([]byte)) error {
	char, err := d.characteristic(charUUID)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- char.EnableNotifications(callback)
	}()

	timer := time.NewTimer(defaultSubscribeWait)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("enable notifications on %s: %w", charUUID, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("enable notifications on %s: timed out after %s", charUUID, defaultSubscribeWait)
	}
}

func (d *tinyGoDevice) DisableNotifications(charUUID string) error {
	char, err := d.characteristic(charUUID)
	if err != nil {
		return err
	}
	if err := char.EnableNotifications(nil); err != nil {
		return fmt.Errorf("disable notifications on %s: %w", charUUID, err)
	}
	return nil
}

func (d *tinyGoDevice) Write(charUUID string, payload []byte) error {
	char, err := d.characteristic(charUUID)
	if err != nil {
		return err
	}

	written, err := char.WriteWithoutResponse(payload)
	if err != nil {
		return fmt.Errorf("write %s: %w", charUUID, err)
	}
	if written != len(payload) {
		return fmt.Errorf("short write to %s: wrote %d of %d", charUUID, written, len(payload))
	}
	return nil
}

func (d *tinyGoDevice) Disconnect() error {
	if err := d.device.Disconnect(); err != nil {
		return fmt.Errorf("disconnect bluetooth device: %w", err)
	}
	return nil
}

func (d *tinyGoDevice) characteristic(charUUID string) (*bluetooth.DeviceCharacteristic, error) {
	char, ok := d.chars[strings.ToLower(strings.TrimSpace(charUUID))]
	if !ok || char == nil {
		return nil, fmt.Errorf("unknown characteristic %s", charUUID)
	}
	return char, nil
}

func parseAddress(raw string) (bluetooth.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return bluetooth.Address{}, errors.New("bluetooth address is empty")
	}

	mac, err := bluetooth.ParseMAC(strings.ToUpper(trimmed))
	if err != nil {
		return bluetooth.Address{}, fmt.Errorf("invalid bluetooth address %q: %w", trimmed, err)
	}

	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

func normalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}
