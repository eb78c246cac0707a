// Package version holds the build version, overridable at link time.
package version

// Version is set via -ldflags "-X pt-watch/internal/version.Version=..."
var Version = "1.0.0"
