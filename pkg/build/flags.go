// SPDX-License-Identifier: MIT

// Package build carries version metadata stamped into the binary with
// linker flags:
//
//	go build -ldflags "-X beatbox/pkg/build.buildName=beatbox \
//	    -X beatbox/pkg/build.buildVersion=1.2.0 \
//	    -X beatbox/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	    -X beatbox/pkg/build.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Unstamped development builds fall back to placeholder values.
package build

import "fmt"

type Flags struct {
	Name    string
	Version string
	Commit  string
	Time    string
}

var (
	buildName    string
	buildVersion string
	buildCommit  string
	buildTime    string

	flags = Flags{
		Name:    "beatbox",
		Version: "dev",
		Commit:  "unknown",
		Time:    "unknown",
	}
)

// Initialize copies any stamped linker values over the development
// defaults. Call once at startup before Get.
func Initialize() {
	if buildName != "" {
		flags.Name = buildName
	}
	if buildVersion != "" {
		flags.Version = buildVersion
	}
	if buildCommit != "" {
		flags.Commit = buildCommit
	}
	if buildTime != "" {
		flags.Time = buildTime
	}
}

// Get returns the build metadata.
func Get() Flags {
	return flags
}

// String renders the metadata for the version command.
func (f Flags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}
