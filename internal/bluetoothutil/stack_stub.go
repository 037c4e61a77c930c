//go:build nobluetooth

package bluetoothutil

// NewAdapter always fails in builds without BLE support.
func NewAdapter(_ string) (Adapter, error) {
	return nil, ErrStackUnavailable
}
