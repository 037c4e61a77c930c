package app

import (
	"net"
	"strconv"
	"strings"

	"github.com/skobkin/camlink/internal/config"
)

// ConnectionTarget describes where cfg points, for logs and status lines.
func ConnectionTarget(cfg config.ConnectionConfig) string {
	medium, _ := config.ParseMedium(string(cfg.Medium))
	switch medium {
	case config.MediumWiFi:
		host := strings.TrimSpace(cfg.Host)
		if host == "" {
			host = config.DefaultWiFiHost
		}
		port := cfg.Port
		if port <= 0 {
			port = config.DefaultWiFiPort
		}
		return net.JoinHostPort(host, strconv.Itoa(port))
	case config.MediumBLE:
		if addr := strings.TrimSpace(cfg.BluetoothAddress); addr != "" {
			return addr
		}
		return "scan"
	default:
		return ""
	}
}
