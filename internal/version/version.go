// Package version provides build version information and the latest-version
// check pushed to interactive shells.
package version

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v1.0.0"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"
