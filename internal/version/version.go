// Package version reports build information set at link time with
// -ldflags "-X github.com/mscrnt/vidbridge/internal/version.Version=..."
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = ""
	Commit    = ""
	BuildTime = ""
)

// Info is the build information of the running binary
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information with defaults filled in
func Get() Info {
	return New(Version, Commit, BuildTime)
}

// New builds an Info from raw link-time values
func New(version, commit, buildTime string) Info {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if buildTime == "" {
		buildTime = "unknown"
	}
	return Info{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short returns the version and abbreviated commit
func (i Info) Short() string {
	commit := i.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s-%s", i.Version, commit)
}

func (i Info) String() string {
	return fmt.Sprintf(`vidbridge (video timing bridge)
Version:    %s
Commit:     %s
Built:      %s
Go version: %s
OS/Arch:    %s`,
		i.Version, i.Commit, i.BuildTime, i.GoVersion, i.Platform)
}
