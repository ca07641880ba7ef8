package version

// Version is the service current released version.
// Overridden at build time with -ldflags "-X .../internal/version.Version=x.y.z".
var Version = "0.1.0"

// GetCurrentVersion returns the version reported by the binary for the given mode.
func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return Version + "-dev"
	}
	return Version
}
