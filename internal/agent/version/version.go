package version

import (
	"runtime"
	"time"
)

// Overridden at build time with -ldflags "-X hostmetrics-agent/internal/agent/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type Info struct {
	Hostname      string `json:"hostname"`
	AgentVersion  string `json:"agent_version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	GoVersion     string `json:"go_version"`
	Platform      string `json:"platform"`
	CheckedAtUnix int64  `json:"checked_at_unix"`
}

func Get(hostname string) Info {
	return Info{
		Hostname:      hostname,
		AgentVersion:  Version,
		Commit:        Commit,
		BuildDate:     BuildDate,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		CheckedAtUnix: time.Now().UTC().Unix(),
	}
}

func (i Info) String() string {
	return i.AgentVersion + " (" + i.Commit + ", built " + i.BuildDate + ", " + i.GoVersion + " " + i.Platform + ")"
}
