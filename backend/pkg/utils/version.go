package utils

import (
	"fmt"
	"runtime/debug"
)

// Version is overridden at build time with -ldflags "-X ...utils.Version=x.y.z".
//
//nolint:gochecknoglobals // set by the linker
var Version = "0.1.0"

func getVCSInfo() (commit, buildTime, modified string) {
	commit, buildTime, modified = "unknown", "unknown", "false"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, buildTime, modified
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if s.Value != "" {
				commit = s.Value
			}
		case "vcs.time":
			if s.Value != "" {
				buildTime = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				modified = "true"
			}
		}
	}

	if len(commit) > 7 {
		commit = commit[:7]
	}

	return commit, buildTime, modified
}

func versionWithDirty(modified string) string {
	if modified == "true" {
		return "v" + Version + "-dirty"
	}

	return "v" + Version
}

// GetBuildVersion returns "vX.Y.Z (commit) built at <time>".
func GetBuildVersion() string {
	commit, buildTime, modified := getVCSInfo()

	return fmt.Sprintf("%s (%s) built at %s", versionWithDirty(modified), commit, buildTime)
}

// GetVersionShort returns "vX.Y.Z (commit)".
func GetVersionShort() string {
	commit, _, modified := getVCSInfo()

	return fmt.Sprintf("%s (%s)", versionWithDirty(modified), commit)
}

// GetBuildInfo returns build metadata as a flat map.
func GetBuildInfo() map[string]string {
	commit, buildTime, modified := getVCSInfo()

	info := map[string]string{
		"version":      Version,
		"commit":       commit,
		"build_time":   buildTime,
		"vcs_modified": modified,
	}

	if bi, ok := debug.ReadBuildInfo(); ok && bi.GoVersion != "" {
		info["go_version"] = bi.GoVersion
	}

	return info
}
