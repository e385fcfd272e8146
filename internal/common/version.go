package common

// Version information, injected at build time via -ldflags.
var (
	version = "0.1.0-dev"
	build   = "unknown"
)

// GetVersion returns the semantic version of this build.
func GetVersion() string {
	return version
}

// GetBuild returns the build identifier (commit or CI run).
func GetBuild() string {
	return build
}
