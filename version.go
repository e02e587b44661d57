package gkel

import "fmt"

// Release numbers of the gkel module. A breaking change of the event or
// exchange formats bumps Maj.
const (
	Maj = 0
	Min = 1
	Fix = 0
)

// Suffix marks builds that are not tagged releases.
const Suffix = "-dev"

var version = fmt.Sprintf("v%d.%d.%d%s", Maj, Min, Fix, Suffix)

// GitCommit is injected with -ldflags "-X github.com/iov-one/gkel.GitCommit=..."
// by release builds.
var GitCommit = ""

// Version returns the release of this build, followed by the commit it was
// built from when known. gkelsim prints it for -version.
func Version() string {
	if GitCommit == "" {
		return version
	}
	return version + " " + GitCommit
}
