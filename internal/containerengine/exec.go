package containerengine

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
)

// shellImage is the minimal shell environment Exec runs its throwaway
// one-shot commands in, for commands that do not need a language
// runtime of their own; callers needing another image use ExecWithImage.
const shellImage = "alpine:3.20"

// Exec runs command in a brand-new, auto-removed container with
// volumePath bind-mounted at /app, returning combined stdout+stderr.
// extraBinds lets callers attach additional paths (e.g. the container
// engine's own socket, for helper containers that themselves shell out
// to docker).
func (e *Engine) Exec(ctx context.Context, volumePath, command string, extraBinds []string) (string, error) {
	return e.ExecWithImage(ctx, shellImage, volumePath, "/app", command, extraBinds)
}

// ExecWithImage is the general form of Exec: the caller names the image
// to run the command in (e.g. a language-specific build image, or a
// docker-CLI helper image for the packaging phase) and the in-container
// path the volume is mounted at.
func (e *Engine) ExecWithImage(ctx context.Context, image, volumePath, mountTo, command string, extraBinds []string) (string, error) {
	if err := e.EnsureImage(ctx, image); err != nil {
		return "", err
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: volumePath, Target: mountTo},
	}
	for _, b := range extraBinds {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: b, Target: b})
	}

	internalConfig := &container.Config{
		Image:      image,
		Cmd:        []string{"sh", "-c", command},
		WorkingDir: mountTo,
	}
	hostConfig := &container.HostConfig{
		Mounts:     mounts,
		AutoRemove: true,
	}

	created, err := e.sdk.ContainerCreate(ctx, internalConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("containerengine: create exec container: %w", err)
	}
	if err := e.sdk.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("containerengine: start exec container: %w", err)
	}

	statusCh, errCh := e.sdk.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case waitErr := <-errCh:
		if waitErr != nil {
			return "", fmt.Errorf("containerengine: wait for exec container: %w", waitErr)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, logErr := e.sdk.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	var output string
	if logErr == nil {
		defer logs.Close()
		output, _ = demux(logs)
	}

	if exitCode != 0 {
		return output, fmt.Errorf("containerengine: exec command exited %d", exitCode)
	}
	return output, nil
}

// ExecInContainer attaches an exec session to an already-running
// container, demultiplexes stdout/stderr, and resolves with stdout on
// success or an error carrying stderr plus the exit code on failure.
func (e *Engine) ExecInContainer(ctx context.Context, name string, command []string) (string, error) {
	id, err := e.findByName(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("containerengine: container %q not found", name)
	}

	created, err := e.sdk.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          command,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("containerengine: exec create on %q: %w", name, err)
	}

	attached, err := e.sdk.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("containerengine: exec attach on %q: %w", name, err)
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil && err != io.EOF {
		return "", fmt.Errorf("containerengine: demux exec output on %q: %w", name, err)
	}

	inspected, err := e.sdk.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return "", fmt.Errorf("containerengine: exec inspect on %q: %w", name, err)
	}

	if inspected.ExitCode != 0 {
		return "", fmt.Errorf("containerengine: exec in %q exited %d: %s", name, inspected.ExitCode, stderr.String())
	}
	return stdout.String(), nil
}

// demux splits a Docker multiplexed stdout/stderr stream into one
// combined, chronologically interleaved string. the same writer is
// passed for both streams, matching how build and deploy logs merge
// stdout/stderr into a single readable log file.
func demux(r io.Reader) (string, error) {
	var buf bytes.Buffer
	_, err := stdcopy.StdCopy(&buf, &buf, r)
	if err != nil && err != io.EOF {
		return buf.String(), err
	}
	return buf.String(), nil
}
