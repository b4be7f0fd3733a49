package app

import "strings"

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
)

func BuildVersion() string {
	version := strings.TrimSpace(Version)
	if version == "" {
		return "dev"
	}

	return version
}
