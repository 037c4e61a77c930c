package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths stores resolved runtime file locations.
type Paths struct {
	RootDir     string
	ConfigFile  string
	CaptureFile string
	LogFile     string
}

// ResolvePaths places every file under the user config dir, creating it.
func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	root := filepath.Join(cfgRoot, Name)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return PathsIn(root), nil
}

// PathsIn lays out runtime files under root without touching the filesystem.
func PathsIn(root string) Paths {
	return Paths{
		RootDir:     root,
		ConfigFile:  filepath.Join(root, ConfigFilename),
		CaptureFile: filepath.Join(root, CaptureFilename),
		LogFile:     filepath.Join(root, LogFilename),
	}
}
