//go:build !nobluetooth

package bluetoothutil

import (
	"fmt"
	"runtime"
	"strings"

	"tinygo.org/x/bluetooth"
)

// EnableAdapter powers up the adapter. Failures caused by a missing BLE stack
// are wrapped with ErrStackUnavailable.
func EnableAdapter(adapter *bluetooth.Adapter) error {
	if adapter == nil {
		return fmt.Errorf("%w: no bluetooth adapter", ErrStackUnavailable)
	}
	if err := adapter.Enable(); err != nil {
		if isBenignEnableAdapterError(err) {
			return nil
		}
		if IsDependencyUnavailableError(err) {
			return fmt.Errorf("%w: enable adapter: %w", ErrStackUnavailable, err)
		}
		return fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	return nil
}

func isBenignEnableAdapterError(err error) bool {
	if err == nil || runtime.GOOS != "windows" {
		return false
	}

	// tinygo.org/x/bluetooth on Windows surfaces RoInitialize(S_FALSE=1) as
	// "Incorrect function.", even though this means COM is already initialized.
	msg := strings.TrimSpace(strings.ToLower(err.Error()))

	return msg == "incorrect function" || msg == "incorrect function."
}
