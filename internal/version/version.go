package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

const name = "rate-oracle-updater"

// String renders the build information for the version command.
func String() string {
	return fmt.Sprintf("%s %s\ncommit: %s\nbuilt: %s\ngo: %s", name, Version, Commit, BuildDate, runtime.Version())
}

// UserAgent is sent to rate feeds unless one is configured.
func UserAgent() string {
	return name + "/" + Version
}
