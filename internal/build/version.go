package build

import (
	"fmt"
	"strings"
)

// Commit, CommitHash, GoVersion and RawTags are set by the linker at build
// time via -ldflags and stay empty for plain go build.
var (
	// Commit is the git tag description of the source tree.
	Commit string

	// CommitHash is the full git commit hash of the source tree.
	CommitHash string

	// GoVersion is the version of the go toolchain the binary was built
	// with.
	GoVersion string

	// RawTags is the comma separated list of build tags the binary was
	// built with.
	RawTags string
)

const (
	// appMajor defines the major version of this binary.
	appMajor uint = 0

	// appMinor defines the minor version of this binary.
	appMinor uint = 1

	// appPatch defines the application patch for this binary.
	appPatch uint = 0

	// appPreRelease must only contain characters from the semantic
	// version alphabet per the semver spec. It is empty for releases.
	appPreRelease = "beta"
)

// Version returns the application version as a properly formed string per
// the semantic versioning 2.0.0 spec.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, appPreRelease)
	}

	return version
}

// Tags returns the build tags the binary was compiled with.
func Tags() []string {
	if RawTags == "" {
		return nil
	}

	return strings.Split(RawTags, ",")
}
