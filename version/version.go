package version

import (
	goversion "github.com/hashicorp/go-version"
)

// Set through ldflags at build time.
var (
	version = "development"
	build   = "0"
)

// NightjarVersion returns the Nightjar application version.
func NightjarVersion() string {
	return version
}

// BuildNumber returns the monotonically increasing build identifier.
func BuildNumber() string {
	return build
}

// Semver returns the parsed application version. Development builds that
// carry no parseable version report 0.0.0 so that any published release
// compares as newer.
func Semver() *goversion.Version {
	parsed, err := goversion.NewVersion(version)
	if err != nil {
		parsed, _ = goversion.NewVersion("0.0.0")
	}
	return parsed
}
