package version

import (
	"runtime"
	"runtime/debug"
	"slices"
)

var version = "dev"

// Version returns the current version string with the containers-image
// library suffix.
func Version() string {
	imgVersion := ImageLibraryVersion()
	if imgVersion != "" {
		return version + " (containers-image " + imgVersion + ")"
	}
	return version
}

// RawVersion returns the semantic version string without any suffix.
func RawVersion() string {
	return version
}

// ImageLibraryVersion returns the linked containers-image version from
// build info.
func ImageLibraryVersion() string {
	img, _ := readBuildInfo()
	return img
}

// GoVersion returns the Go toolchain version used for the build.
func GoVersion() string {
	return runtime.Version()
}

// readBuildInfo reads debug.ReadBuildInfo once and extracts both
// the containers-image dependency version and the VCS revision.
func readBuildInfo() (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	var imgVersion, commit string
	if idx := slices.IndexFunc(info.Deps, func(dep *debug.Module) bool {
		return dep.Path == "go.podman.io/image/v5"
	}); idx >= 0 {
		imgVersion = info.Deps[idx].Version
	}
	if idx := slices.IndexFunc(info.Settings, func(s debug.BuildSetting) bool {
		return s.Key == "vcs.revision"
	}); idx >= 0 {
		val := info.Settings[idx].Value
		if len(val) > 12 {
			commit = val[:12]
		} else {
			commit = val
		}
	}
	return imgVersion, commit
}

// Info holds structured version information for machine-readable output.
type Info struct {
	Version             string   `json:"version"`
	ImageLibraryVersion string   `json:"imageLibraryVersion,omitempty"`
	Platform            Platform `json:"platform"`
	GoVersion           string   `json:"goVersion"`
	GitCommit           string   `json:"gitCommit,omitempty"`
}

// Platform describes the OS and architecture.
type Platform struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

// GetInfo returns structured version information.
func GetInfo() Info {
	imgVersion, commit := readBuildInfo()
	return Info{
		Version:             RawVersion(),
		ImageLibraryVersion: imgVersion,
		Platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		GoVersion: GoVersion(),
		GitCommit: commit,
	}
}
