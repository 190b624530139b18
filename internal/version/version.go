package version

import (
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X github.com/fmueller/audiotext/internal/version.Version=..." by release builds.
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

// Info describes the running build.
type Info struct {
	Version string
	Commit  string
	Date    string
	Dirty   bool
}

func (i Info) String() string {
	out := i.Version
	if i.Commit != "" && !strings.Contains(out, i.Commit) {
		out += " (" + i.Commit
		if i.Dirty {
			out += ", modified"
		}
		out += ")"
	}
	return out
}

// Resolve prefers linker-provided values and falls back to the module build info
// that `go install` and `go build` embed.
func Resolve() Info {
	return resolve(Version, Commit, Date, debug.ReadBuildInfo)
}

func resolve(version, commit, date string, readBuildInfo func() (*debug.BuildInfo, bool)) Info {
	info := Info{
		Version: strings.TrimPrefix(strings.TrimSpace(version), "v"),
		Commit:  strings.TrimSpace(commit),
		Date:    strings.TrimSpace(date),
	}

	if build, ok := readBuildInfo(); ok && build != nil {
		if info.Version == "" {
			mainVersion := strings.TrimPrefix(build.Main.Version, "v")
			if mainVersion != "" && mainVersion != "(devel)" {
				info.Version = mainVersion
			}
		}

		for _, setting := range build.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = shortRevision(setting.Value)
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = setting.Value
				}
			case "vcs.modified":
				info.Dirty = setting.Value == "true"
			}
		}
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}
	return info
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
