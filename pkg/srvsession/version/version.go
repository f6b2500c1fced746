package version

var (
	// Version is set at build time with -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String returns the version with commit and build date.
func String() string {
	return "srvsession " + Version + " (commit: " + GitCommit + ", built: " + BuildDate + ")"
}
