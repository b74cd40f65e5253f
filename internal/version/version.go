// Package version carries the build identity stamped in via ldflags:
//
//	go build -ldflags "-X github.com/aicg/aicg/internal/version.Version=1.2.3 \
//	                   -X github.com/aicg/aicg/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/aicg/aicg/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version, "dev" for unstamped builds.
	Version = "dev"

	// Commit is the full git commit SHA, empty for unstamped builds.
	Commit = ""

	// Date is the build timestamp in RFC3339, empty for unstamped builds.
	Date = ""
)

// Short returns the one-line form used for cobra's --version output.
func Short() string {
	if len(Commit) >= 8 {
		return fmt.Sprintf("%s (%s)", Version, Commit[:8])
	}
	return Version
}

// String returns the full human-readable form for the version command.
func String() string {
	s := "aicg " + Short()
	if Date != "" {
		s += " built " + Date
	}
	return fmt.Sprintf("%s (%s %s/%s)", s, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
