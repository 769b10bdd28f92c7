package buildconfig

// Build-time variables injected via ldflags:
//
//	-X github.com/Harshitk-cp/canonkeeper/internal/buildconfig.version=v1.2.0
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = ""
)

func Version() string {
	return version
}

func Commit() string {
	return commit
}

// Info is the build block reported by /health.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time,omitempty"`
}

func VersionInfo() Info {
	return Info{
		Service:   "canonkeeper",
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
