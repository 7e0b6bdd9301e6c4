package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// odacDockerfileName is the ephemeral Dockerfile written into the
// source directory for the auto-detected packaging track. It is always
// removed again once the image build finishes, win or lose, so a
// redeploy of the same source never finds a stale copy.
const odacDockerfileName = "Dockerfile.odac"

// nonRootUser is the user every packaged image runs as. Running the
// served process as root inside its own container is unnecessary
// privilege: a compromise of the app itself should not also hand the
// attacker root inside the container.
const nonRootUser = "odac"

// writeEphemeralDockerfile renders a Dockerfile for the detected
// strategy into sourceDir and returns its path plus a cleanup function
// that removes it. The caller must call cleanup on every exit path
// (success or failure) via defer.
func writeEphemeralDockerfile(sourceDir string, profile strategyProfile) (string, func(), error) {
	path := filepath.Join(sourceDir, odacDockerfileName)

	target := copyTarget(profile)

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", profile.BaseImage)
	fmt.Fprintf(&b, "RUN addgroup -S %s && adduser -S %s -G %s\n", nonRootUser, nonRootUser, nonRootUser)
	fmt.Fprintf(&b, "WORKDIR %s\n", target)
	fmt.Fprintf(&b, "COPY . %s\n", target)
	fmt.Fprintf(&b, "RUN chown -R %s:%s %s\n", nonRootUser, nonRootUser, target)
	if target != "/usr/share/nginx/html" {
		fmt.Fprintf(&b, "USER %s\n", nonRootUser)
	}
	if len(profile.RunCmd) > 0 {
		b.WriteString("CMD [")
		for i, part := range profile.RunCmd {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%q", part)
		}
		b.WriteString("]\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", func() {}, fmt.Errorf("builder: write ephemeral dockerfile: %w", err)
	}

	cleanup := func() {
		_ = os.Remove(path)
	}
	return path, cleanup, nil
}
