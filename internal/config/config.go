package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Medium identifies which transport backend should be used.
type Medium string

const (
	MediumWiFi Medium = "wifi"
	MediumBLE  Medium = "ble"

	DefaultWiFiHost = "192.168.42.1"
	DefaultWiFiPort = 6666

	DefaultMinBackoffSeconds = 1
	DefaultMaxBackoffSeconds = 15
)

// ParseMedium resolves a medium name case-insensitively. "ip" and "bluetooth"
// are accepted as aliases.
func ParseMedium(raw string) (Medium, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(MediumWiFi), "ip":
		return MediumWiFi, true
	case string(MediumBLE), "bluetooth":
		return MediumBLE, true
	default:
		return "", false
	}
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig contains medium-specific connection parameters.
type ConnectionConfig struct {
	Medium           Medium `json:"medium"`
	Host             string `json:"host"`
	Port             int    `json:"port"`
	BluetoothAddress string `json:"bluetooth_address"`
	BluetoothAdapter string `json:"bluetooth_adapter"`
	// ScanTimeoutSeconds bounds BLE discovery. Zero scans until a camera is found.
	ScanTimeoutSeconds int `json:"scan_timeout_seconds"`
}

// ScanTimeout returns the discovery bound; zero means unbounded.
func (c ConnectionConfig) ScanTimeout() time.Duration {
	if c.ScanTimeoutSeconds <= 0 {
		return 0
	}

	return time.Duration(c.ScanTimeoutSeconds) * time.Second
}

// LinkConfig controls the link supervisor.
type LinkConfig struct {
	Reconnect         bool `json:"reconnect"`
	MinBackoffSeconds int  `json:"min_backoff_seconds"`
	MaxBackoffSeconds int  `json:"max_backoff_seconds"`
}

// CaptureConfig controls persistence of raw frames.
type CaptureConfig struct {
	Enabled bool `json:"enabled"`
	// Path of the sqlite file. Empty uses the default location in the app dir.
	Path string `json:"path"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Logging    LoggingConfig    `json:"logging"`
	Link       LinkConfig       `json:"link"`
	Capture    CaptureConfig    `json:"capture"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Medium:             MediumWiFi,
			Host:               DefaultWiFiHost,
			Port:               DefaultWiFiPort,
			BluetoothAddress:   "",
			BluetoothAdapter:   "",
			ScanTimeoutSeconds: 0,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Link: LinkConfig{
			Reconnect:         true,
			MinBackoffSeconds: DefaultMinBackoffSeconds,
			MaxBackoffSeconds: DefaultMaxBackoffSeconds,
		},
		Capture: CaptureConfig{
			Enabled: false,
			Path:    "",
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from the command line or the user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if medium, ok := ParseMedium(string(c.Connection.Medium)); ok {
		c.Connection.Medium = medium
	} else if strings.TrimSpace(string(c.Connection.Medium)) == "" {
		c.Connection.Medium = MediumWiFi
	}
	if strings.TrimSpace(c.Connection.Host) == "" {
		c.Connection.Host = DefaultWiFiHost
	}
	if c.Connection.Port <= 0 {
		c.Connection.Port = DefaultWiFiPort
	}
	if c.Connection.ScanTimeoutSeconds < 0 {
		c.Connection.ScanTimeoutSeconds = 0
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Link.MinBackoffSeconds <= 0 {
		c.Link.MinBackoffSeconds = DefaultMinBackoffSeconds
	}
	if c.Link.MaxBackoffSeconds <= 0 {
		c.Link.MaxBackoffSeconds = DefaultMaxBackoffSeconds
	}
	if c.Link.MaxBackoffSeconds < c.Link.MinBackoffSeconds {
		c.Link.MaxBackoffSeconds = c.Link.MinBackoffSeconds
	}
}

func (c AppConfig) Validate() error {
	switch c.Connection.Medium {
	case MediumWiFi:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("wifi host is required")
		}
		if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
			return fmt.Errorf("wifi port out of range: %d", c.Connection.Port)
		}
	case MediumBLE:
		if c.Connection.ScanTimeoutSeconds < 0 {
			return errors.New("scan timeout must not be negative")
		}
	default:
		return fmt.Errorf("unknown medium: %s", c.Connection.Medium)
	}
	if c.Link.MinBackoffSeconds <= 0 || c.Link.MaxBackoffSeconds < c.Link.MinBackoffSeconds {
		return fmt.Errorf("invalid backoff range: %d..%d", c.Link.MinBackoffSeconds, c.Link.MaxBackoffSeconds)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
