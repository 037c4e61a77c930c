package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/skobkin/camlink/internal/config"
	"github.com/skobkin/camlink/internal/transport"
)

// NewTransport returns a fresh, disconnected transport for medium ("wifi" or
// "ble", case-insensitive; "ip" and "bluetooth" are accepted as aliases).
func NewTransport(medium string, logger *slog.Logger) (transport.Transport, error) {
	return NewTransportForConnection(config.ConnectionConfig{Medium: config.Medium(medium)}, logger)
}

// NewTransportForConnection builds the transport selected by cfg.Medium.
func NewTransportForConnection(cfg config.ConnectionConfig, logger *slog.Logger) (transport.Transport, error) {
	medium, ok := config.ParseMedium(string(cfg.Medium))
	if !ok {
		return nil, fmt.Errorf("%w: %q (expected %q or %q)", transport.ErrUnsupportedMedium, strings.TrimSpace(string(cfg.Medium)), config.MediumWiFi, config.MediumBLE)
	}

	switch medium {
	case config.MediumBLE:
		return transport.NewBLETransport(logger, transport.BLEOptions{AdapterID: cfg.BluetoothAdapter}), nil
	default:
		return transport.NewWiFiTransport(logger), nil
	}
}

// ConnectParamsFromConfig maps persisted connection settings to connect
// parameters. WiFi fields are left empty when unset so transport defaults apply.
func ConnectParamsFromConfig(cfg config.ConnectionConfig) transport.ConnectParams {
	return transport.ConnectParams{
		Host:        strings.TrimSpace(cfg.Host),
		Port:        cfg.Port,
		Address:     strings.TrimSpace(cfg.BluetoothAddress),
		ScanTimeout: cfg.ScanTimeout(),
	}
}
