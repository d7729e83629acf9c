// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info returns all build and runtime info as a map.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// UserAgent returns the HTTP User-Agent string for outbound requests.
func UserAgent() string {
	return fmt.Sprintf("Herald/%s", Version)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Herald %s (%s) built %s", Version, GitCommit, BuildTime)
}
