package app

import (
	"runtime/debug"
	"strings"
)

// Version is filled by ldflags in release builds.
var Version = ""

// BuildVersion prefers the ldflags version, then the module version stamped
// by the toolchain, then "dev".
func BuildVersion() string {
	if version := strings.TrimSpace(Version); version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}

	return "dev"
}
