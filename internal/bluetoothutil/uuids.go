package bluetoothutil

// GATT identifiers of the camera's control channel. These are protocol
// constants.
const (
	CameraServiceUUID    = "0000be80-0000-1000-8000-00805f9b34fb"
	CameraWriteCharUUID  = "0000be81-0000-1000-8000-00805f9b34fb"
	CameraNotifyCharUUID = "0000be82-0000-1000-8000-00805f9b34fb"
)
