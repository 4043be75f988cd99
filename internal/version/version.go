package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const devVersion = "0.1.0-dev"

// Set with -ldflags "-X"; otherwise filled from the module build info.
var (
	AppName   = "diskmirror"
	Version   = devVersion
	Revision  = ""
	BuildDate = ""
)

func fromBuildInfo(info *debug.BuildInfo) {
	if info == nil {
		return
	}
	if Version == devVersion && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = strings.TrimPrefix(info.Main.Version, "v")
	}

	var rev, date string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.time":
			date = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if Revision == "" && rev != "" {
		Revision = rev[:min(len(rev), 7)]
		if dirty {
			Revision += "-dirty"
		}
	}
	if BuildDate == "" {
		BuildDate = date
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Short is used in the startup log line, e.g. `0.1.0 (5e23a4f)`.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, orUnknown(Revision))
}

// Detailed is printed by the version command.
func Detailed() string {
	return fmt.Sprintf("%s (%s; %s; %s/%s; built %s)",
		Version, orUnknown(Revision), runtime.Version(), runtime.GOOS, runtime.GOARCH, orUnknown(BuildDate))
}

// UserAgent identifies the mirror to remote APIs, e.g. `diskmirror/0.1.0 (linux; amd64)`.
func UserAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", AppName, Version, runtime.GOOS, runtime.GOARCH)
}

func init() {
	info, _ := debug.ReadBuildInfo()
	fromBuildInfo(info)
}
