package bluetoothutil

import (
	"errors"
	"strings"

	"github.com/godbus/dbus/v5"
)

// D-Bus error names reported when BlueZ or the system bus itself is missing.
var stackUnavailableDBusErrors = []string{
	"org.freedesktop.DBus.Error.ServiceUnknown",
	"org.freedesktop.DBus.Error.NoServer",
	"org.freedesktop.DBus.Error.FileNotFound",
	"org.freedesktop.DBus.Error.UnknownObject",
	"org.freedesktop.DBus.Error.NameHasNoOwner",
}

func IsDBusErrorName(err error, want string) bool {
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) && dbusErrPtr != nil && dbusErrPtr.Name == want {
		return true
	}

	var dbusErr dbus.Error
	return errors.As(err, &dbusErr) && dbusErr.Name == want
}

// IsDependencyUnavailableError reports whether err means there is no usable
// BLE stack on this machine, as opposed to a device that could not be reached.
func IsDependencyUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStackUnavailable) {
		return true
	}
	for _, name := range stackUnavailableDBusErrors {
		if IsDBusErrorName(err, name) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "system_bus_socket") ||
		strings.Contains(msg, "org.bluez was not provided") ||
		strings.Contains(msg, "bluetooth adapter not found") ||
		strings.Contains(msg, "no bluetooth adapter")
}

func IsBenignStopScanError(err error) bool {
	if err == nil {
		return true
	}
	if IsDBusErrorName(err, "org.bluez.Error.NotReady") {
		return true
	}
	if IsDBusErrorName(err, "org.bluez.Error.Failed") && strings.Contains(strings.ToLower(err.Error()), "no discovery started") {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cancel") ||
		strings.Contains(msg, "stopped") ||
		strings.Contains(msg, "not scanning") ||
		strings.Contains(msg, "no scan in progress")
}

func IsScanAlreadyInProgressError(err error) bool {
	if err == nil {
		return false
	}
	if IsDBusErrorName(err, "org.bluez.Error.InProgress") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already in progress")
}
