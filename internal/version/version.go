// Package version carries build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the semantic version of tradewatch.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// Info renders the build metadata, falling back to the VCS revision
// stamped by the Go toolchain when Commit was not injected.
func Info() string {
	commit := Commit
	if commit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					commit = s.Value
				}
			}
		}
	}
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s\ngo: %s\n", Version, commit, BuildDate, runtime.Version())
}
