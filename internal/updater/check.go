package updater

import (
	"context"
	"fmt"
	"os"

	"github.com/odacrun/odac/internal/builder"
)

// buildFromSourceChannels forces a build-from-source update regardless
// of what's published to the registry; any value outside this set pulls
// the published image instead.
var buildFromSourceChannels = map[string]bool{
	"beta": true,
	"dev":  true,
}

// checkForUpdate resolves the target image digest the handover path
// should spawn: either the freshly pulled "latest" tag, or a freshly
// built image from the target branch's source when the channel demands
// building from source. It returns an empty image with needed false and
// a nil error when no update is needed (digest unchanged).
func (u *Updater) checkForUpdate(ctx context.Context, bld *builder.Builder) (image string, needed bool, err error) {
	u.setPhase("checking")

	currentDigest, digestErr := u.engine.ImageDigest(ctx, defaultImage)
	if digestErr != nil {
		u.logger.Warn("could not read current image digest, proceeding with update anyway", "error", digestErr)
	}

	if buildFromSourceChannels[u.channel] {
		u.setPhase("building")
		image, err = u.buildFromSource(ctx, bld)
		if err != nil {
			return "", false, err
		}
		return image, true, nil
	}

	if err := u.engine.PullImage(ctx, defaultImage); err != nil {
		return "", false, fmt.Errorf("updater: pull %q: %w", defaultImage, err)
	}
	newDigest, err := u.engine.ImageDigest(ctx, defaultImage)
	if err != nil {
		return "", false, fmt.Errorf("updater: inspect pulled image: %w", err)
	}
	if newDigest == currentDigest && currentDigest != "" {
		return "", false, nil
	}
	return defaultImage, true, nil
}

// buildFromSource clones ODAC_CHANNEL's matching branch into a temp
// workspace and builds it into a locally tagged image, mirroring the
// Builder's normal website-build path but targeting the daemon's own
// repository instead of a tenant's.
func (u *Updater) buildFromSource(ctx context.Context, bld *builder.Builder) (string, error) {
	workDir, err := os.MkdirTemp("", "odac-self-update-*")
	if err != nil {
		return "", fmt.Errorf("updater: create build workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	const sourceURL = "https://github.com/odacrun/odac.git"
	if err := u.engine.CloneRepo(ctx, sourceURL, u.channel, workDir, ""); err != nil {
		return "", fmt.Errorf("updater: clone source: %w", err)
	}

	image := "odac-self-build:" + u.channel
	if err := bld.Build(ctx, workDir, image); err != nil {
		return "", fmt.Errorf("updater: build from source: %w", err)
	}
	return image, nil
}
