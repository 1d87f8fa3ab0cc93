// Package version exposes the build metadata stamped into observastack
// binaries through -ldflags.
package version

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden at link time, e.g.
//
//	-X github.com/observastack/observastack/pkg/version.Version=v1.2.0
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	GoVersion = runtime.Version()
	Platform  = runtime.GOOS + "/" + runtime.GOARCH
)

type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string    `json:"buildDate" yaml:"buildDate"`
	GoVersion string    `json:"goVersion" yaml:"goVersion"`
	Platform  string    `json:"platform" yaml:"platform"`
	BuildTime time.Time `json:"buildTime,omitempty" yaml:"buildTime,omitempty"`
}

// GetBuildInfo snapshots the link-time variables. BuildTime stays zero
// unless BuildDate is RFC3339.
func GetBuildInfo() BuildInfo {
	built, _ := time.Parse(time.RFC3339, BuildDate)
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
		BuildTime: built,
	}
}

// Banner renders the one-line form printed by "<product> version".
func (b BuildInfo) Banner(product string) string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s)", product, b.Version, b.GitCommit, b.BuildDate, b.Platform)
}

// UserAgent returns the User-Agent sent by the API transport, e.g.
// "obsctl/1.2.0 (linux/amd64)".
func UserAgent(product string) string {
	if product == "" {
		product = "observastack"
	}
	return fmt.Sprintf("%s/%s (%s)", product, Version, Platform)
}
