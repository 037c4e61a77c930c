// Package transport moves raw byte streams between the protocol client and a
// camera over either a TCP socket (WiFi) or a BLE GATT link.
package transport

import (
	"context"
	"time"
)

// ReceiveFunc receives inbound bytes. It is called from a background
// goroutine owned by the transport.
type ReceiveFunc func(payload []byte)

// ConnectParams carries the medium-specific connection parameters. WiFi uses
// Host and Port; BLE uses Address and ScanTimeout.
type ConnectParams struct {
	Host string
	Port int

	// Address of the BLE device. When empty the device is discovered by scanning.
	Address string
	// ScanTimeout bounds discovery. A non-positive value scans until a device
	// is found or the connect context is cancelled.
	ScanTimeout time.Duration
}

// Transport is the capability contract shared by every medium. Failures are
// reported through boolean results and logs; LastError returns the most
// recent classified failure.
type Transport interface {
	Name() string
	Connect(ctx context.Context, params ConnectParams) bool
	Disconnect()
	Send(payload []byte) bool
	StartReceiving(cb ReceiveFunc)
	StopReceiving()
	ConnectionInfo() string
	Connected() bool
	State() State
	LastError() error
}
