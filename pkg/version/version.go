// Package version derives the running build's identity from embedded
// build metadata. An -ldflags override wins (container builds without
// .git), then the VCS stamp Go embeds, then a "dev" fallback.
package version

import "runtime/debug"

// AppName prefixes version strings, user agents and startup log lines.
const AppName = "remedy"

// commitOverride is injected via
// -ldflags "-X .../pkg/version.commitOverride=<sha>".
var commitOverride string

// Build is resolved once at init from the override or the VCS stamp.
var Build = resolve()

// Info identifies one build of the binary.
type Info struct {
	Commit     string // short hash, "dev" when unknown
	CommitTime string // RFC3339 from the VCS stamp, empty when unknown
	Modified   bool   // built from a tree with uncommitted changes
}

// String returns "remedy/<commit>", with "+dirty" appended for builds
// from a modified tree.
func (i Info) String() string {
	s := AppName + "/" + i.Commit
	if i.Modified {
		s += "+dirty"
	}
	return s
}

// Full is shorthand for Build.String().
func Full() string {
	return Build.String()
}

func resolve() Info {
	if commitOverride != "" {
		return Info{Commit: short(commitOverride)}
	}
	info := Info{Commit: "dev"}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if s.Value != "" {
				info.Commit = short(s.Value)
			}
		case "vcs.time":
			info.CommitTime = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
