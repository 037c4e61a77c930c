package bluetoothutil

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrStackUnavailable means the BLE stack is not present in this environment.
var ErrStackUnavailable = errors.New("bluetooth stack is unavailable")

// Advertisement is a single scan report.
type Advertisement struct {
	Address      string
	Name         string
	RSSI         int
	ServiceUUIDs []string
}

// HasService reports whether the advertisement lists uuid, ignoring case.
func (a Advertisement) HasService(uuid string) bool {
	want := strings.ToLower(strings.TrimSpace(uuid))
	for _, got := range a.ServiceUUIDs {
		if strings.ToLower(strings.TrimSpace(got)) == want {
			return true
		}
	}
	return false
}

// Adapter is the host side of the BLE stack.
type Adapter interface {
	Enable() error
	// Scan reports advertisements to onResult until it returns true or ctx
	// is done. It returns an error only when the stack fails.
	Scan(ctx context.Context, onResult func(Advertisement) bool) error
	// Connect establishes a link to address and resolves the camera's GATT
	// characteristics. timeout bounds the link establishment.
	Connect(ctx context.Context, address string, timeout time.Duration) (Device, error)
}

// Device is a connected peripheral addressed by characteristic UUID.
type Device interface {
	Address() string
	EnableNotifications(charUUID string, callback func([]byte)) error
	DisableNotifications(charUUID string) error
	Write(charUUID string, payload []byte) error
	Disconnect() error
}

// AdapterFactory creates the adapter used by a transport.
type AdapterFactory func(adapterID string) (Adapter, error)
