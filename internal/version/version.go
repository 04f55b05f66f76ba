// Package version provides build-time version information for convertarr.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/convertarr/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/convertarr/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/convertarr/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "convertarr"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func shortCommit() (string, bool) {
	if Commit == "unknown" || len(Commit) < 8 {
		return "", false
	}
	return Commit[:8], true
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	if commit, ok := shortCommit(); ok {
		return fmt.Sprintf("%s version %s (commit: %s, built: %s, %s, %s)",
			ApplicationName, info.Version, commit, info.Date, info.GoVersion, info.Platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns a short version string suitable for CLI --version output.
func Short() string {
	if commit, ok := shortCommit(); ok {
		return fmt.Sprintf("%s (%s)", Version, commit)
	}
	return Version
}
