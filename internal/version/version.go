// Package version carries the build identity stamped in via ldflags.
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String formats the full build identity for the version command.
func String() string {
	return fmt.Sprintf("screenman %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}
