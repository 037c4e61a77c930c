package transport

import "errors"

var (
	// ErrConnectionFailure: the medium is unreachable or the handshake failed.
	ErrConnectionFailure = errors.New("connection failure")
	// ErrDependencyUnavailable: the BLE stack is not present.
	ErrDependencyUnavailable = errors.New("transport dependency unavailable")
	// ErrTimeout: a bounded wait expired.
	ErrTimeout = errors.New("operation timed out")
	// ErrNotConnected: the operation needs an established link.
	ErrNotConnected = errors.New("transport is not connected")
	// ErrTeardownInProgress: disconnect has begun.
	ErrTeardownInProgress = errors.New("transport teardown in progress")
	// ErrUnsupportedMedium: no transport exists for the requested medium.
	ErrUnsupportedMedium = errors.New("unsupported medium")
)
