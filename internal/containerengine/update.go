package containerengine

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
)

// Rename renames a container in place, the primitive the updater uses to
// swap `odac` <-> `odac-backup` during a handover or a rollback.
func (e *Engine) Rename(ctx context.Context, oldName, newName string) error {
	id, err := e.findByName(ctx, oldName)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("containerengine: container %q not found", oldName)
	}
	if err := e.sdk.ContainerRename(ctx, id, newName); err != nil {
		return fmt.Errorf("containerengine: rename %q to %q: %w", oldName, newName, err)
	}
	return nil
}

// ImageDigest returns the locally cached image's content digest (the
// RepoDigests entry), used to decide whether a newer image was actually
// pulled before spawning an update container for nothing.
func (e *Engine) ImageDigest(ctx context.Context, image string) (string, error) {
	inspected, err := e.sdk.ImageInspect(ctx, image)
	if err != nil {
		return "", fmt.Errorf("containerengine: inspect image %q: %w", image, err)
	}
	if len(inspected.RepoDigests) > 0 {
		return inspected.RepoDigests[0], nil
	}
	return inspected.ID, nil
}

// PullImage pulls the named image and drains the daemon's progress
// stream; the updater only cares whether the pull succeeded, not the
// per-layer progress events themselves.
func (e *Engine) PullImage(ctx context.Context, image string) error {
	return e.EnsureImage(ctx, image)
}

// DisableRestartPolicy sets a container's restart policy to "no", used
// on the outgoing backup container once a handover has committed so
// Docker never resurrects the instance that just handed off.
func (e *Engine) DisableRestartPolicy(ctx context.Context, name string) error {
	id, err := e.findByName(ctx, name)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	_, err = e.sdk.ContainerUpdate(ctx, id, container.UpdateConfig{
		RestartPolicy: container.RestartPolicy{Name: "no"},
	})
	if err != nil {
		return fmt.Errorf("containerengine: disable restart policy for %q: %w", name, err)
	}
	return nil
}

// EnvAndBinds reads back the current container's environment and bind
// mounts, the inputs the updater copies onto the sibling "odac-update"
// container (minus the update-mode markers, which the caller strips).
func (e *Engine) EnvAndBinds(ctx context.Context, name string) (env []string, binds []string, err error) {
	id, findErr := e.findByName(ctx, name)
	if findErr != nil {
		return nil, nil, findErr
	}
	if id == "" {
		return nil, nil, fmt.Errorf("containerengine: container %q not found", name)
	}
	inspected, err := e.sdk.ContainerInspect(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("containerengine: inspect %q: %w", name, err)
	}
	if inspected.Config != nil {
		env = inspected.Config.Env
	}
	if inspected.HostConfig != nil {
		binds = inspected.HostConfig.Binds
	}
	return env, binds, nil
}

// SpawnConfig describes the sibling container the updater spawns for a
// handover attempt.
type SpawnConfig struct {
	Name  string
	Image string
	Env   []string
	Binds []string
}

// SpawnSibling creates and starts a new container with host networking
// and no restart policy, the shape the Linux handover path needs for the
// "odac-update" container that will attempt to take over.
func (e *Engine) SpawnSibling(ctx context.Context, cfg SpawnConfig) error {
	if err := e.removeIfExists(ctx, cfg.Name); err != nil {
		return err
	}
	resp, err := e.sdk.ContainerCreate(ctx, &container.Config{
		Image: cfg.Image,
		Env:   cfg.Env,
	}, &container.HostConfig{
		Binds:         cfg.Binds,
		NetworkMode:   "host",
		RestartPolicy: container.RestartPolicy{Name: "no"},
	}, nil, (*v1.Platform)(nil), cfg.Name)
	if err != nil {
		return fmt.Errorf("containerengine: create sibling %q: %w", cfg.Name, err)
	}
	if err := e.sdk.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("containerengine: start sibling %q: %w", cfg.Name, err)
	}
	return nil
}

// RunHelper launches a short-lived, auto-removing container with the
// Docker socket bind-mounted and a shell script as its command, used by
// the non-Linux update fallback to perform the container swap from
// outside this process's own lifetime.
func (e *Engine) RunHelper(ctx context.Context, image, script string) error {
	if err := e.EnsureImage(ctx, image); err != nil {
		return err
	}

	internalConfig := &container.Config{
		Image:      image,
		Entrypoint: []string{"sh", "-c"},
		Cmd:        []string{script},
	}
	hostConfig := &container.HostConfig{
		Binds:      []string{"/var/run/docker.sock:/var/run/docker.sock"},
		AutoRemove: true,
	}

	created, err := e.sdk.ContainerCreate(ctx, internalConfig, hostConfig, nil, (*v1.Platform)(nil), "")
	if err != nil {
		return fmt.Errorf("containerengine: create helper container: %w", err)
	}
	if err := e.sdk.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("containerengine: start helper container: %w", err)
	}
	return nil
}
