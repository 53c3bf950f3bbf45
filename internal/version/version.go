// Package version holds build metadata injected through -ldflags.
package version

import (
	"log/slog"
	"runtime"
	"runtime/debug"
)

// Set with -ldflags "-X github.com/smazurov/capturewatch/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = "unknown"
)

// Info is the build metadata of the running binary.
type Info struct {
	Version   string
	GitCommit string
	BuildDate string
	GoVersion string
}

// Get returns the build metadata. When GitCommit was not injected it is
// taken from the VCS stamp embedded by the Go toolchain.
func Get() Info {
	commit := GitCommit
	if commit == "" {
		commit = vcsRevision()
	}
	return Info{
		Version:   Version,
		GitCommit: commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}

// LogValue groups the metadata under one log attribute.
func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("version", i.Version),
		slog.String("commit", i.GitCommit),
		slog.String("built", i.BuildDate),
		slog.String("go", i.GoVersion),
	)
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}
