package containerengine

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/odacrun/odac/internal/models"
)

// findByName resolves the container ID whose primary name matches name
// exactly. Docker's name filter matches substrings, so listedContainer
// names are still checked for an exact "/"+name match, the same
// disambiguation the teacher pipeline needed.
func (e *Engine) findByName(ctx context.Context, name string) (string, error) {
	listed, err := e.sdk.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", fmt.Errorf("containerengine: list containers for %q: %w", name, err)
	}

	target := "/" + name
	for _, c := range listed {
		for _, n := range c.Names {
			if n == target {
				return c.ID, nil
			}
		}
	}
	return "", nil
}

// RunConfig describes a single bind-mounted backend container: the
// common shape used by website backends, where the entire document root
// is mounted at a fixed path and the image's own entrypoint does the
// serving.
type RunConfig struct {
	Name       string
	Image      string
	HostMount  string
	MountTo    string
	ExtraBinds []models.VolumeBinding
	Env        []string
}

// Run creates and starts a container on the shared network with restart
// policy "unless-stopped". Any existing container with the same name is
// removed first so repeated calls are idempotent rather than erroring on
// a name collision.
func (e *Engine) Run(ctx context.Context, cfg RunConfig) error {
	if err := e.removeIfExists(ctx, cfg.Name); err != nil {
		return err
	}

	mounts := []mount.Mount{}
	if cfg.HostMount != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   cfg.HostMount,
			Target:   cfg.MountTo,
			ReadOnly: true,
		})
	}
	for _, b := range cfg.ExtraBinds {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: b.HostPath,
			Target: b.ContainerPath,
		})
	}

	internalConfig := &container.Config{
		Image: cfg.Image,
		Env:   cfg.Env,
	}
	hostConfig := &container.HostConfig{
		Mounts:        mounts,
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}
	netConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			e.network: {},
		},
	}

	created, err := e.sdk.ContainerCreate(ctx, internalConfig, hostConfig, netConfig, (*v1.Platform)(nil), cfg.Name)
	if err != nil {
		return fmt.Errorf("containerengine: create container %q: %w", cfg.Name, err)
	}

	if err := e.sdk.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("containerengine: start container %q: %w", cfg.Name, err)
	}

	e.logger.Info("container started", "name", cfg.Name, "image", cfg.Image)
	return nil
}

// RunApp is the generic variant with explicit port bindings and an
// optional override command, used for Service-type containers installed
// from a recipe rather than a website backend.
type RunAppConfig struct {
	Name    string
	Image   string
	Ports   []models.PortBinding
	Volumes []models.VolumeBinding
	Env     []string
	Cmd     []string
}

func (e *Engine) RunApp(ctx context.Context, cfg RunAppConfig) error {
	if err := e.removeIfExists(ctx, cfg.Name); err != nil {
		return err
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range cfg.Ports {
		containerPort, err := nat.NewPort("tcp", fmt.Sprintf("%d", p.ContainerPort))
		if err != nil {
			return fmt.Errorf("containerengine: invalid container port %d: %w", p.ContainerPort, err)
		}
		exposed[containerPort] = struct{}{}
		bindings[containerPort] = append(bindings[containerPort], nat.PortBinding{
			HostIP:   p.HostIP,
			HostPort: fmt.Sprintf("%d", p.HostPort),
		})
	}

	mounts := make([]mount.Mount, 0, len(cfg.Volumes))
	for _, v := range cfg.Volumes {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: v.HostPath,
			Target: v.ContainerPath,
		})
	}

	internalConfig := &container.Config{
		Image:        cfg.Image,
		Env:          cfg.Env,
		ExposedPorts: exposed,
	}
	if len(cfg.Cmd) > 0 {
		internalConfig.Cmd = cfg.Cmd
	}
	hostConfig := &container.HostConfig{
		Mounts:        mounts,
		PortBindings:  bindings,
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}
	netConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			e.network: {},
		},
	}

	created, err := e.sdk.ContainerCreate(ctx, internalConfig, hostConfig, netConfig, (*v1.Platform)(nil), cfg.Name)
	if err != nil {
		return fmt.Errorf("containerengine: create app container %q: %w", cfg.Name, err)
	}
	if err := e.sdk.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("containerengine: start app container %q: %w", cfg.Name, err)
	}

	e.logger.Info("app container started", "name", cfg.Name, "image", cfg.Image)
	return nil
}

func (e *Engine) removeIfExists(ctx context.Context, name string) error {
	id, err := e.findByName(ctx, name)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	_ = e.sdk.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	return nil
}

// Stop sends SIGTERM (then SIGKILL after the timeout) to the named
// container. A container that no longer exists is treated as already
// stopped: the 404 from the engine is swallowed rather than propagated,
// matching the adapter's "transient 404/304 on stop/remove are ignored"
// error policy.
func (e *Engine) Stop(ctx context.Context, name string) error {
	id, err := e.findByName(ctx, name)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	timeout := 10
	if err := e.sdk.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("containerengine: stop %q: %w", name, err)
	}
	return nil
}

// Remove deletes the named container. Like Stop, a missing container is
// not an error: the desired end state (container gone) already holds.
func (e *Engine) Remove(ctx context.Context, name string) error {
	id, err := e.findByName(ctx, name)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	if err := e.sdk.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("containerengine: remove %q: %w", name, err)
	}
	return nil
}

// IsRunning reports whether a container with this name currently exists
// and is in the running state.
func (e *Engine) IsRunning(ctx context.Context, name string) (bool, error) {
	listed, err := e.sdk.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return false, fmt.Errorf("containerengine: list for running-check %q: %w", name, err)
	}
	target := "/" + name
	for _, c := range listed {
		for _, n := range c.Names {
			if n == target {
				return c.State == "running", nil
			}
		}
	}
	return false, nil
}

// Summary is the subset of container.Summary the daemon's own listing
// endpoints expose over the control IPC.
type Summary struct {
	ID    string
	Name  string
	Image string
	State string
}

// List returns every container the engine knows about, running or
// stopped and whether or not it is on the shared network, for the
// control IPC's introspection commands.
func (e *Engine) List(ctx context.Context) ([]Summary, error) {
	listed, err := e.sdk.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("containerengine: list: %w", err)
	}
	out := make([]Summary, 0, len(listed))
	for _, c := range listed {
		name := c.ID
		if len(c.Names) > 0 {
			name = c.Names[0][1:]
		}
		out = append(out, Summary{ID: c.ID, Name: name, Image: c.Image, State: c.State})
	}
	return out, nil
}

// Logs returns the combined stdout/stderr tail of a container's output.
func (e *Engine) Logs(ctx context.Context, name string, tailLines int) (string, error) {
	id, err := e.findByName(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("containerengine: container %q not found", name)
	}

	tail := "all"
	if tailLines > 0 {
		tail = fmt.Sprintf("%d", tailLines)
	}

	rc, err := e.sdk.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
	if err != nil {
		return "", fmt.Errorf("containerengine: logs %q: %w", name, err)
	}
	defer rc.Close()

	return demux(rc)
}

// GetIP resolves the container's address on the shared network, used by
// future proxying strategies that dial the container directly rather
// than a published host port.
func (e *Engine) GetIP(ctx context.Context, name string) (string, error) {
	id, err := e.findByName(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("containerengine: container %q not found", name)
	}

	inspected, err := e.sdk.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("containerengine: inspect %q: %w", name, err)
	}

	if inspected.NetworkSettings == nil {
		return "", fmt.Errorf("containerengine: %q has no network settings", name)
	}
	if ep, ok := inspected.NetworkSettings.Networks[e.network]; ok && ep != nil {
		return ep.IPAddress, nil
	}
	return "", fmt.Errorf("containerengine: %q is not attached to network %q", name, e.network)
}
