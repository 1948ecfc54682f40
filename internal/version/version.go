// Package version provides version information for the velune binary.
package version

import "fmt"

// Version is the current version of the application.
// This is set at build time using -ldflags.
var Version = "dev"

// BuildTime is when the binary was built.
// This is set at build time using -ldflags.
var BuildTime = "unknown"

// UserAgent is sent on outbound requests to the relay and the engine.
func UserAgent() string {
	return "velune/" + Version
}

// String returns the formatted version information.
func String() string {
	return fmt.Sprintf("velune version %s (built %s)", Version, BuildTime)
}
