// Package version holds build-time version information for the tapsink
// binary, injected through -ldflags.
package version

// Version is the semantic version of the build.
var Version = "dev"

// Commit is the Git hash the binary was built from.
var Commit = "none"

// Date is the build timestamp.
var Date = "unknown"
