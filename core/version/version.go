// Package version returns tsbridge version information.
package version

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Version records tsbridge version information.
type Version struct {
	Version string    `json:"version"`
	Commit  string    `json:"commit"`
	Date    time.Time `json:"date"`
	Dirty   bool      `json:"dirty"`
}

func (v Version) String() string {
	return v.Version
}

// V contains version information of the running binary.
var V = Version{
	Version: "development",
	Commit:  "unknown",
	Date:    time.Now(),
	Dirty:   true,
}

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	bs := map[string]string{}
	for _, kv := range bi.Settings {
		bs[kv.Key] = kv.Value
	}
	dt, e := time.Parse(time.RFC3339, bs["vcs.time"])
	if bs["vcs"] != "git" || len(bs["vcs.revision"]) != 40 || e != nil {
		return
	}

	V.Commit = bs["vcs.revision"]
	V.Date = dt
	V.Dirty = bs["vcs.modified"] == "true"
	V.Version = Pseudo(V.Date, V.Commit, V.Dirty)
}

// Pseudo formats a Go pseudo-version from commit time and hash.
func Pseudo(date time.Time, commit string, dirty bool) string {
	if len(commit) > 12 {
		commit = commit[:12]
	}
	s := fmt.Sprintf("v0.0.0-%s-%s", date.UTC().Format("20060102150405"), commit)
	if dirty {
		s += "-dirty"
	}
	return s
}
