package updater

import (
	"context"
	"fmt"

	"github.com/odacrun/odac/internal/builder"
	"github.com/odacrun/odac/internal/containerengine"
)

// helperImage is a minimal docker-cli-capable image used on non-Linux
// platforms, where renaming containers out from under the running one
// needs to happen from a process that survives this instance's own
// shutdown.
const helperImage = "docker:cli"

// RunFallback performs the simpler container-swap update used on any
// platform without the Linux handshake's host-network/rename tooling:
// create the new container stopped, spawn a short-lived helper that
// stops/removes the old container and renames+starts the new one after
// a short grace period, then exit this process.
func (u *Updater) RunFallback(ctx context.Context, bld *builder.Builder) error {
	if u.session != nil {
		return errAlreadyRunning
	}

	image, needed, err := u.checkForUpdate(ctx, bld)
	if err != nil {
		return fmt.Errorf("updater: check: %w", err)
	}
	if !needed {
		u.logger.Info("no update available")
		return nil
	}

	env, binds, err := u.engine.EnvAndBinds(ctx, currentContainerName)
	if err != nil {
		return fmt.Errorf("updater: read current container env/binds: %w", err)
	}
	env = stripUpdateEnv(env)

	if err := u.engine.SpawnSibling(ctx, containerengine.SpawnConfig{
		Name:  updateContainerName,
		Image: image,
		Env:   env,
		Binds: binds,
	}); err != nil {
		return fmt.Errorf("updater: create new container: %w", err)
	}
	if err := u.engine.Stop(ctx, updateContainerName); err != nil {
		return fmt.Errorf("updater: stop new container pending handoff: %w", err)
	}

	script := fmt.Sprintf(
		`sleep %d && docker stop %s && docker rm %s && docker rename %s %s && docker start %s`,
		int(nonLinuxGraceGap.Seconds()), currentContainerName, currentContainerName,
		updateContainerName, currentContainerName, currentContainerName,
	)
	if err := u.engine.RunHelper(ctx, helperImage, script); err != nil {
		return fmt.Errorf("updater: launch swap helper: %w", err)
	}

	u.logger.Info("handoff helper launched, exiting", "grace", nonLinuxGraceGap)
	return nil
}
