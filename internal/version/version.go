// Package version reports the build version of the terminus binaries.
package version

import "fmt"

// Version and Commit are set at build time via:
//
//	go build -ldflags "-X ...version.VERSION=0.1.0 -X ...version.Commit=abc123"
var (
	VERSION = "dev"
	Commit  = "dev"
)

// String formats the version line printed by --version.
func String(binary string) string {
	return fmt.Sprintf("%s %s (%s)", binary, VERSION, Commit)
}
