package app

import (
	"errors"
	"testing"
	"time"

	"github.com/skobkin/camlink/internal/config"
	"github.com/skobkin/camlink/internal/transport"
)

func TestNewTransport(t *testing.T) {
	tests := []struct {
		medium  string
		want    string
		wantErr bool
	}{
		{medium: "wifi", want: "wifi"},
		{medium: "WIFI", want: "wifi"},
		{medium: "ip", want: "wifi"},
		{medium: "ble", want: "ble"},
		{medium: "Bluetooth", want: "ble"},
		{medium: "serial", wantErr: true},
		{medium: "", wantErr: true},
	}

	for _, tc := range tests {
		tr, err := NewTransport(tc.medium, nil)
		if tc.wantErr {
			if !errors.Is(err, transport.ErrUnsupportedMedium) {
				t.Fatalf("%q: expected ErrUnsupportedMedium, got %v", tc.medium, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.medium, err)
		}
		if tr.Name() != tc.want {
			t.Fatalf("%q: expected transport %q, got %q", tc.medium, tc.want, tr.Name())
		}
		if tr.Connected() || tr.State() != transport.StateDisconnected {
			t.Fatalf("%q: new transport must start disconnected", tc.medium)
		}
	}
}

func TestNewTransportReturnsFreshInstances(t *testing.T) {
	first, err := NewTransport("wifi", nil)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	second, err := NewTransport("wifi", nil)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct instances")
	}
}

func TestConnectParamsFromConfig(t *testing.T) {
	params := ConnectParamsFromConfig(config.ConnectionConfig{
		Medium:             config.MediumBLE,
		Host:               " 10.0.0.2 ",
		Port:               7000,
		BluetoothAddress:   " AA:BB:CC:DD:EE:FF ",
		ScanTimeoutSeconds: 3,
	})

	want := transport.ConnectParams{
		Host:        "10.0.0.2",
		Port:        7000,
		Address:     "AA:BB:CC:DD:EE:FF",
		ScanTimeout: 3 * time.Second,
	}
	if params != want {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestConnectionTarget(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ConnectionConfig
		want string
	}{
		{name: "wifi defaults", cfg: config.ConnectionConfig{Medium: config.MediumWiFi}, want: "192.168.42.1:6666"},
		{name: "wifi explicit", cfg: config.ConnectionConfig{Medium: "ip", Host: "10.0.0.1", Port: 7000}, want: "10.0.0.1:7000"},
		{name: "ble address", cfg: config.ConnectionConfig{Medium: config.MediumBLE, BluetoothAddress: "AA:BB:CC:DD:EE:FF"}, want: "AA:BB:CC:DD:EE:FF"},
		{name: "ble scan", cfg: config.ConnectionConfig{Medium: config.MediumBLE}, want: "scan"},
		{name: "unknown", cfg: config.ConnectionConfig{Medium: "usb"}, want: ""},
	}

	for _, tc := range tests {
		if got := ConnectionTarget(tc.cfg); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
