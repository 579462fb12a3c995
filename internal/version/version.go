// Package version provides build-time version information.
package version

import (
	"fmt"
	"runtime/debug"
)

// version is set at build time via -ldflags.
var version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var

// String returns the current version.
func String() string {
	return version
}

// Long returns the version plus the VCS revision recorded by the Go
// toolchain, e.g. "dev (3f2a9c1, modified)".
func Long() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return version
	}
	if len(rev) > 7 {
		rev = rev[:7]
	}
	if dirty {
		return fmt.Sprintf("%s (%s, modified)", version, rev)
	}
	return fmt.Sprintf("%s (%s)", version, rev)
}
