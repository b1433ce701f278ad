// Package buildinfo carries the version stamped into bcsync at link time.
package buildinfo

import "fmt"

// Set with -ldflags "-X github.com/cleared-dev/bcsync/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the stamp for --version and the sync log fields.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
