// SPDX-License-Identifier: MIT
//
// Package build exposes build metadata embedded at link time:
//
//	go build -ldflags "-X micscope/pkg/build.buildVersion=0.2.0 -X micscope/pkg/build.buildCommit=$(git rev-parse --short HEAD)"
//
// Flags left unset fall back to the module's VCS stamp and then to
// development defaults, so plain `go build` and `go test` work.
package build

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Info describes the running binary.
type Info struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// Development defaults.
const (
	DefaultName    = "micscope"
	DefaultVersion = "dev"
	unknown        = "unknown"
	description    = "Live microphone spectrum analyser and publisher"
)

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var (
	once sync.Once
	info Info
)

// Get returns the build information, resolving it on first use.
func Get() Info {
	once.Do(func() {
		bi, _ := debug.ReadBuildInfo()
		info = resolve(Info{
			Name:    buildName,
			Time:    buildTime,
			Commit:  buildCommit,
			Version: buildVersion,
		}, bi)
	})
	return info
}

// String returns e.g. "micscope 0.2.0 (commit abc1234, built 2025-04-13)".
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// resolve fills empty linker values from the module's build info, then from
// defaults.
func resolve(ld Info, bi *debug.BuildInfo) Info {
	out := ld
	out.Description = description
	if bi != nil {
		if out.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			out.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if out.Commit == "" {
					out.Commit = shortCommit(s.Value)
				}
			case "vcs.time":
				if out.Time == "" {
					out.Time = s.Value
				}
			}
		}
	}

	if out.Name == "" {
		out.Name = DefaultName
	}
	if out.Version == "" {
		out.Version = DefaultVersion
	}
	if out.Commit == "" {
		out.Commit = unknown
	}
	if out.Time == "" {
		out.Time = unknown
	}
	return out
}

func shortCommit(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
