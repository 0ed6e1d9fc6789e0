// Package version reports the build stamped into the binary
package version

// BuildInfo describes one build of the migrator
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Set with -ldflags "-X fourkeys/internal/core/version.version=v1.2.0 -X fourkeys/internal/core/version.commit=abcd"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Service is the binary name used in logs, client info and the user agent
const Service = "fourkeys-migrate"

// Info returns the build information
func Info() BuildInfo {
	return BuildInfo{Service: Service, Version: version, Commit: commit, Date: date}
}

// UserAgent identifies the migrator to the source host
func UserAgent() string {
	return Service + "/" + version + " (+" + commit + ")"
}
