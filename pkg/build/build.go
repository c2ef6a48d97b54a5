// Package build holds version information stamped at link time, e.g.
//
//	go build -ldflags "-X github.com/storacha/linkdex/pkg/build.Version=v1.2.3"
package build

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = "unknown"
)
