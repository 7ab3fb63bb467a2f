// Package version carries the build version stamped at link time, falling
// back to module build info for go install builds.
package version

import "runtime/debug"

// Version is overridden with -ldflags "-X ...version.Version=v1.2.3".
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	if inf, ok := debug.ReadBuildInfo(); ok && inf.Main.Version != "" {
		Version = inf.Main.Version
	}
}
