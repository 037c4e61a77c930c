package connectors

import (
	"encoding/hex"
	"strings"
	"time"
)

// ConnectionState describes the link lifecycle as published on the bus.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnStatus is a bus event snapshot of the current link status.
type ConnStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Target        string
	Info          string
	Timestamp     time.Time
}

// FrameDirection tells inbound and outbound frames apart.
type FrameDirection string

const (
	FrameDirectionIn  FrameDirection = "in"
	FrameDirectionOut FrameDirection = "out"
)

// RawFrame is one chunk of bytes exchanged with the camera.
type RawFrame struct {
	Direction FrameDirection
	Transport string
	Payload   []byte
	Hex       string
	Len       int
	At        time.Time
}

func NewRawFrame(direction FrameDirection, transportName string, payload []byte, at time.Time) RawFrame {
	data := make([]byte, len(payload))
	copy(data, payload)

	return RawFrame{
		Direction: direction,
		Transport: transportName,
		Payload:   data,
		Hex:       strings.ToUpper(hex.EncodeToString(payload)),
		Len:       len(payload),
		At:        at,
	}
}
