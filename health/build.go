package health

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
)

// getBuildInfo assembles a short build fingerprint for the version
// endpoint. Values baked in by the Go toolchain win; BUILD_* env vars
// let container images override them.
func getBuildInfo() string {
	version := envOr("BUILD_VERSION", "dev")
	commit := envOr("BUILD_COMMIT", "unknown")

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				commit = setting.Value
			}
		}
	}

	if len(commit) > 7 {
		commit = commit[:7]
	}

	return fmt.Sprintf("%s-%s (%s/%s %s)", version, commit, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
