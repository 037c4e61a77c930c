package app

const (
	Name            = "camlink"
	SourceURL       = "https://git.skobk.in/skobkin/camlink"
	ConfigFilename  = "config.json"
	CaptureFilename = "capture.db"
	LogFilename     = "camlink.log"
)
