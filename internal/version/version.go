// Package version provides build and version information for ShowSync.
package version

// Version is the current release version of ShowSync.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/ShowSync/internal/version.Version=x.y.z"
var Version = "0.4.0"
