// Package version holds the diaglog version, set at build time via ldflags:
//
//	go build -ldflags "-X github.com/ehrlich-b/diaglog/internal/version.Version=v1.2.3"
package version

// Version is "dev" for development builds.
var Version = "dev"
