// Package version holds build metadata injected with -ldflags.
package version

// Version, Commit and BuildDate are overridden at link time:
//
//	go build -ldflags "-X github.com/doeshing/cmdrelay/internal/version.Version=v1.2.0"
var (
	Version   = "dev"
	Commit    = ""
	BuildDate = ""
)
