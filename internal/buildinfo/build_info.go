package buildinfo

import "fmt"

// BuildInfo holds all sorts of information about the build of an executable artifact.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String returns the build info as a string.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}

// KeysAndValues returns the build info as logr key/value pairs.
func (i BuildInfo) KeysAndValues() []any {
	return []any{"version", i.Version, "commit", i.CommitHash, "built", i.BuildDate}
}
