package version

import (
	"fmt"
	"runtime"
)

// set by -ldflags "-X kubegems.io/modelimage/pkg/version.gitVersion=..."
var (
	gitVersion   = "v0.0.0-master"
	gitCommit    = ""
	buildDate    = "1970-01-01T00:00:00Z"
	imageVersion = "1.0"
)

type Version struct {
	GitVersion   string `json:"gitVersion"`
	GitCommit    string `json:"gitCommit"`
	BuildDate    string `json:"buildDate"`
	ImageVersion string `json:"imageVersion"`
	GoVersion    string `json:"goVersion"`
	Platform     string `json:"platform"`
}

func (v Version) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", v.GitVersion, v.GitCommit, v.BuildDate, v.Platform)
}

func Get() Version {
	return Version{
		GitVersion:   gitVersion,
		GitCommit:    gitCommit,
		BuildDate:    buildDate,
		ImageVersion: imageVersion,
		GoVersion:    runtime.Version(),
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// ImageVersion is the tag applied to base images next to "latest".
func ImageVersion() string {
	return imageVersion
}
