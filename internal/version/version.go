// Package version reports what build of cortex is running. It is announced
// to the renderer, to language servers and to shells through TERM_PROGRAM_VERSION.
package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const (
	defaultModule = "pkt.systems/cortex"
	unknown       = "v0.0.0-unknown"
)

// buildVersion is set via -ldflags "-X pkt.systems/cortex/internal/version.buildVersion=...".
var buildVersion = ""

// Info describes the running build.
type Info struct {
	Module    string
	Version   string
	Revision  string
	Time      time.Time
	Dirty     bool
	GoVersion string
}

// Read collects Info from the linker flag and the embedded build info.
func Read() Info {
	info, _ := debug.ReadBuildInfo()
	return fromBuildInfo(info, buildVersion)
}

func fromBuildInfo(bi *debug.BuildInfo, pinned string) Info {
	out := Info{Module: defaultModule}
	if bi != nil {
		if p := strings.TrimSpace(bi.Main.Path); p != "" {
			out.Module = p
		}
		out.GoVersion = bi.GoVersion
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				out.Revision = s.Value
			case "vcs.time":
				out.Time, _ = time.Parse(time.RFC3339, s.Value)
			case "vcs.modified":
				out.Dirty = s.Value == "true"
			}
		}
	}
	switch {
	case strings.TrimSpace(pinned) != "":
		out.Version = strings.TrimSpace(pinned)
		if strings.HasSuffix(out.Version, "+dirty") {
			out.Dirty = true
			out.Version = strings.TrimSuffix(out.Version, "+dirty")
		}
	case bi != nil && bi.Main.Version != "" && bi.Main.Version != "(devel)":
		out.Version = strings.TrimSuffix(bi.Main.Version, "+dirty")
	case out.Revision != "" && !out.Time.IsZero():
		rev := out.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		out.Version = "v0.0.0-" + out.Time.UTC().Format("20060102150405") + "-" + rev
	default:
		out.Version = unknown
	}
	return out
}

// String renders the version with a +dirty suffix for modified trees.
func (i Info) String() string {
	if i.Dirty && i.Version != unknown {
		return i.Version + "+dirty"
	}
	return i.Version
}

// Current is the clean version string.
func Current() string { return Read().Version }

// Module is the main module path.
func Module() string { return Read().Module }
