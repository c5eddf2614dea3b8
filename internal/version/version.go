// Package version carries build-time version information for the fdshare
// binaries, populated via ldflags. Development builds use the defaults.
package version

// Set at build time:
//
//	go build -ldflags "-X github.com/chdir/fdshare/internal/version.Version=1.0.0 \
//	                   -X github.com/chdir/fdshare/internal/version.Commit=abc123"
var (
	// Version is the semantic version of the build (e.g. "1.0.0", "dev").
	Version = "dev"

	// Commit is the git commit hash the binary was built from.
	Commit = "unknown"
)

// Info returns a single formatted version line.
func Info() string {
	return "fdshare " + Version + " (commit: " + Commit + ")"
}
