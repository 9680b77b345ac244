// Package version carries build metadata stamped via -ldflags.
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}
