package core

// Build metadata, injected with ldflags:
//
//	go build -ldflags "-X github.com/jacobedelsonuw/visionboard-ai/core.Version=v0.3.0 \
//	  -X github.com/jacobedelsonuw/visionboard-ai/core.GitCommit=$(git rev-parse --short HEAD)" .
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionInfo returns a one-line description of the build, for example
// "v0.3.0 (built 2026-01-15T10:30:00Z, commit abc1234)".
func VersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}
