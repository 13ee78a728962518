// Package appversion provides build-time version information.
package appversion

import "runtime/debug"

// version and commit are set at build time via -ldflags.
var (
	version = "dev" //nolint:gochecknoglobals // ldflags requires package-level var
	commit  = ""    //nolint:gochecknoglobals // ldflags requires package-level var
)

// String returns the current version, with the VCS revision when known.
func String() string {
	rev := commit
	if rev == "" {
		rev = vcsRevision()
	}
	if rev == "" {
		return version
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	return version + " (" + rev + ")"
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
