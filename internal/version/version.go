package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/wise/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/wise/internal/version.Commit=abc1234"
//
// When unset they are filled from the VCS stamp embedded by the Go toolchain.
var (
	// Version is the release version of the bridge
	Version = ""
	// Commit is the short git revision
	Commit = ""
)

// ProductName is advertised in the Server header and over mDNS.
const ProductName = "Wi-Se"

func init() {
	if Version == "" || Commit == "" {
		fromBuildInfo()
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

func fromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	if Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	var revision string
	dirty := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	if Commit == "" && revision != "" {
		if len(revision) > 7 {
			revision = revision[:7]
		}
		Commit = revision
		if dirty {
			Commit += "-dirty"
		}
	}
}

// Full returns the version including the commit.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}

// ServerHeader is the value of the HTTP Server header, e.g.
// "Wi-Se/v0.3.0 (go1.24.10)".
func ServerHeader() string {
	return fmt.Sprintf("%s/%s (%s)", ProductName, Version, strings.TrimPrefix(runtime.Version(), "devel "))
}
