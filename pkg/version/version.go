// Package version provides build and version information for bibsearch.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is set at build time:
//
//	-ldflags "-X github.com/Aman-CERP/bibsearch/pkg/version.Version=v0.3.0"
var Version = "dev"

var (
	// Commit is the short git commit hash.
	Commit = "unknown"
	// Date is the build date, RFC3339.
	Date = "unknown"
	// GoVersion is the toolchain that built the binary.
	GoVersion = runtime.Version()
)

// BuildInfo is version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns the one-line version banner.
func String() string {
	info := GetInfo()
	return fmt.Sprintf("bibsearch %s (commit: %s, built: %s, go: %s)",
		info.Version, info.Commit, info.Date, info.GoVersion)
}

// Short returns the version alone.
func Short() string {
	return GetInfo().Version
}

// GetInfo returns the build information. Values not set by ldflags fall
// back to the module and VCS data embedded by `go install`.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch {
		case s.Key == "vcs.revision" && info.Commit == "unknown":
			info.Commit = s.Value[:min(len(s.Value), 7)]
		case s.Key == "vcs.time" && info.Date == "unknown":
			info.Date = s.Value
		}
	}
	return info
}
