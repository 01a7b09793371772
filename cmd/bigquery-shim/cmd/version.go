package cmd

import (
	"fmt"
	"runtime"

	"github.com/gfxtelemetry/bigquery-shim/pkg/manifest"
)

// Set by goreleaser
var (
	Version   = "dev"
	Commit    = "none"
	Date      = "unknown"
	GoVersion = runtime.Version()
)

func versionStanza() string {
	return fmt.Sprintf(
		"bigquery-shim Version: %v\nManifest Version: %v\nGit SHA: %v\nGo Version: %v\nGo OS/Arch: %v/%v\nBuilt at: %v",
		Version, manifest.Default().Version, Commit, GoVersion, runtime.GOOS, runtime.GOARCH, Date,
	)
}
