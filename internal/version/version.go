// Package version provides build and version information for Sentient Director.
package version

// Version is the current release version of Sentient Director.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/AaronLay10/SentientDirector/internal/version.Version=x.y.z"
var Version = "1.0.0"
