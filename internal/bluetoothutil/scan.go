//go:build !nobluetooth

package bluetoothutil

import (
	"errors"
	"fmt"

	"tinygo.org/x/bluetooth"
)

func StopScan(adapter *bluetooth.Adapter) error {
	err := adapter.StopScan()
	if err != nil && !IsBenignStopScanError(err) {
		return err
	}

	return nil
}

func NormalizeScanError(err error) error {
	if err == nil || IsBenignStopScanError(err) {
		return nil
	}

	return err
}

// runScan blocks in adapter.Scan until StopScan is called. A scan left over
// from an earlier session is stopped once and the scan retried.
func runScan(adapter *bluetooth.Adapter, callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := adapter.Scan(callback)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsScanAlreadyInProgressError(err) {
			return err
		}
		if stopErr := StopScan(adapter); stopErr != nil {
			return errors.Join(err, fmt.Errorf("stop stale bluetooth scan: %w", stopErr))
		}
	}
	return lastErr
}
