package bluetoothutil

import "testing"

func TestAdvertisementHasService(t *testing.T) {
	adv := Advertisement{
		Address:      "AA:BB:CC:DD:EE:FF",
		ServiceUUIDs: []string{"0000180F-0000-1000-8000-00805F9B34FB", "0000BE80-0000-1000-8000-00805F9B34FB"},
	}
	if !adv.HasService(CameraServiceUUID) {
		t.Fatalf("expected case-insensitive service match")
	}
	if adv.HasService(CameraWriteCharUUID) {
		t.Fatalf("unexpected match for characteristic UUID")
	}
	if (Advertisement{}).HasService(CameraServiceUUID) {
		t.Fatalf("empty advertisement must not match")
	}
}
